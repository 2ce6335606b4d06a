/*
Package types defines the core data model shared by all Archi3D components.

The model mirrors the on-disk single-source-of-truth (SSOT) CSV tables:

	Item       - a product instance discovered in the dataset tree,
	             keyed by (product_id, variant) in tables/items.csv
	Issue      - a data-quality record in tables/items_issues.csv
	Row        - a raw CSV record, column name -> cell value
	Status     - the generation job lifecycle (enqueued/running/completed/failed)

Column names and table schemas live here as well, since the CSV files are the
public interface of the system: planner, worker, consolidator and the external
metric evaluators all address cells through these constants.

Serialization conventions (shared by every table):

  - booleans as "True"/"False"
  - timestamps as ISO-8601 UTC
  - paths workspace-relative in POSIX form
  - missing cells as the empty string
*/
package types
