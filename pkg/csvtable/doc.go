/*
Package csvtable implements the atomic CSV upsert primitive behind every
SSOT table.

A table is a UTF-8-with-BOM CSV file whose rows are addressed by a composite
key (for example (run_id, job_id) for the generations SSOT). All writers go
through Upsert, which serializes access with a sibling advisory .lock file
and rewrites the table atomically via a temp file and rename. Concurrent
processes on the same host therefore observe a consistent snapshot between
lock acquisition and release, and a crashed writer leaves either the old
file or the new one, never a truncated table.

Merge semantics are deliberately simple: last write wins per key, existing
rows keep their position when unchanged, and changed or new rows are
appended in incoming order. Two refinements serve specific callers:

  - PreserveColumns implements first-write-wins cells (created_at,
    build_time), which is what makes re-planning a batch a no-op.
  - FillFromExisting lets metric evaluators upsert rows carrying only the
    columns they own without clearing everyone else's cells.

Replace-run mode deletes all rows of one run before inserting the
reconciled replacement set, atomically within the same lock; the
consolidator uses it to collapse duplicate keys.
*/
package csvtable
