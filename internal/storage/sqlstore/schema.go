package sqlstore

import (
	"fmt"

	"github.com/MolSSI/QCFractal-sub003/internal/storage"
)

// Schema renders the full DDL for d, one CREATE TABLE IF NOT EXISTS per
// table named in spec §6's persistent state layout. JSON-shaped columns
// are stored as d.JSONType() (TEXT for SQLite, JSON for MySQL) and
// (de)serialized in Go — the same approach the teacher uses for
// relates_to/attributes-style columns (internal/storage/sqlite/issues.go).
func Schema(d storage.Dialect) string {
	pk := d.AutoIncrementPK()
	txt := d.TextType()
	js := d.JSONType()

	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS molecules (
	id %[1]s,
	hash %[2]s NOT NULL,
	symbols %[3]s NOT NULL,
	geometry %[3]s NOT NULL,
	connectivity %[3]s,
	charge REAL NOT NULL DEFAULT 0,
	multiplicity INTEGER NOT NULL DEFAULT 1,
	fragments %[3]s,
	fragment_charges %[3]s,
	fragment_multiplicities %[3]s,
	id_name %[2]s,
	id_comment %[2]s,
	id_user_identifiers %[3]s,
	UNIQUE (hash)
);

CREATE TABLE IF NOT EXISTS keyword_sets (
	id %[1]s,
	hash %[2]s NOT NULL,
	payload %[3]s NOT NULL,
	comments %[2]s,
	UNIQUE (hash)
);

CREATE TABLE IF NOT EXISTS qc_specifications (
	id %[1]s,
	hash %[2]s NOT NULL,
	program %[2]s NOT NULL,
	driver %[2]s NOT NULL,
	method %[2]s NOT NULL,
	basis %[2]s,
	keywords_id INTEGER NOT NULL,
	protocols %[3]s,
	UNIQUE (hash)
);

CREATE TABLE IF NOT EXISTS optimization_specifications (
	id %[1]s,
	hash %[2]s NOT NULL,
	program %[2]s NOT NULL,
	qc_specification_id INTEGER NOT NULL,
	opt_keywords %[3]s,
	opt_protocols %[3]s,
	UNIQUE (hash)
);

CREATE TABLE IF NOT EXISTS torsiondrive_specifications (
	id %[1]s,
	hash %[2]s NOT NULL,
	optimization_specification_id INTEGER NOT NULL,
	payload %[3]s NOT NULL,
	UNIQUE (hash)
);

CREATE TABLE IF NOT EXISTS gridoptimization_specifications (
	id %[1]s,
	hash %[2]s NOT NULL,
	optimization_specification_id INTEGER NOT NULL,
	payload %[3]s NOT NULL,
	UNIQUE (hash)
);

CREATE TABLE IF NOT EXISTS manybody_specifications (
	id %[1]s,
	hash %[2]s NOT NULL,
	qc_specification_id INTEGER NOT NULL,
	bsse_correction %[2]s NOT NULL,
	max_nbody INTEGER,
	UNIQUE (hash)
);

CREATE TABLE IF NOT EXISTS reaction_specifications (
	id %[1]s,
	hash %[2]s NOT NULL,
	payload %[3]s NOT NULL,
	UNIQUE (hash)
);

CREATE TABLE IF NOT EXISTS neb_specifications (
	id %[1]s,
	hash %[2]s NOT NULL,
	optimization_specification_id INTEGER NOT NULL,
	qc_specification_id INTEGER NOT NULL,
	payload %[3]s NOT NULL,
	UNIQUE (hash)
);

CREATE TABLE IF NOT EXISTS base_record (
	id %[1]s,
	record_type %[2]s NOT NULL,
	status %[2]s NOT NULL,
	manager_name %[2]s,
	specification_id INTEGER NOT NULL,
	creator_user %[2]s,
	parent_id INTEGER,
	input_key %[2]s NOT NULL,
	created_on DATETIME NOT NULL,
	modified_on DATETIME NOT NULL,
	outputs %[3]s,
	info_backup %[3]s NOT NULL,
	UNIQUE (specification_id, input_key)
);

CREATE INDEX IF NOT EXISTS idx_base_record_status ON base_record (status);
CREATE INDEX IF NOT EXISTS idx_base_record_parent ON base_record (parent_id);

CREATE TABLE IF NOT EXISTS record_compute_history (
	id %[1]s,
	record_id INTEGER NOT NULL,
	status %[2]s NOT NULL,
	modified_on DATETIME NOT NULL,
	manager_name %[2]s,
	provenance %[3]s,
	return_result %[3]s,
	error_type %[2]s,
	error_message %[3]s,
	stdout %[3]s,
	stderr %[3]s
);

CREATE INDEX IF NOT EXISTS idx_compute_history_record ON record_compute_history (record_id);

CREATE TABLE IF NOT EXISTS output_store (
	id %[1]s,
	history_id INTEGER NOT NULL,
	output_type %[2]s NOT NULL,
	compression %[2]s,
	compression_level INTEGER NOT NULL DEFAULT 0,
	data %[3]s,
	UNIQUE (history_id, output_type)
);

CREATE INDEX IF NOT EXISTS idx_output_store_history ON output_store (history_id);

CREATE TABLE IF NOT EXISTS native_file (
	id %[1]s,
	record_id INTEGER NOT NULL,
	name %[2]s NOT NULL,
	compression %[2]s,
	compression_level INTEGER NOT NULL DEFAULT 0,
	data %[3]s NOT NULL,
	UNIQUE (record_id, name)
);

CREATE INDEX IF NOT EXISTS idx_native_file_record ON native_file (record_id);

CREATE TABLE IF NOT EXISTS record_comment (
	id %[1]s,
	record_id INTEGER NOT NULL,
	username %[2]s,
	comment %[3]s NOT NULL,
	created_on DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_record_comment_record ON record_comment (record_id);

CREATE TABLE IF NOT EXISTS task_queue (
	id %[1]s,
	record_id INTEGER NOT NULL UNIQUE,
	function_name %[2]s NOT NULL,
	args %[3]s,
	kwargs %[3]s,
	required_programs %[3]s NOT NULL,
	compute_tag %[2]s NOT NULL,
	compute_priority INTEGER NOT NULL DEFAULT 0,
	available INTEGER NOT NULL,
	created_on DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_task_queue_available ON task_queue (available, compute_tag, compute_priority, created_on);

CREATE TABLE IF NOT EXISTS service_queue (
	id %[1]s,
	record_id INTEGER NOT NULL UNIQUE,
	service_state %[3]s NOT NULL,
	compute_tag %[2]s NOT NULL,
	compute_priority INTEGER NOT NULL DEFAULT 0,
	find_existing INTEGER NOT NULL DEFAULT 1,
	created_on DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS service_dependency (
	service_id INTEGER NOT NULL,
	position INTEGER NOT NULL,
	record_id INTEGER NOT NULL,
	status %[2]s NOT NULL,
	extras %[3]s,
	PRIMARY KEY (service_id, position)
);

CREATE TABLE IF NOT EXISTS compute_manager (
	id %[1]s,
	cluster %[2]s NOT NULL,
	hostname %[2]s NOT NULL,
	uuid %[2]s NOT NULL,
	name %[2]s NOT NULL,
	version %[2]s,
	username %[2]s,
	programs %[3]s NOT NULL,
	tags %[3]s NOT NULL,
	status %[2]s NOT NULL,
	total_cpu_hours REAL NOT NULL DEFAULT 0,
	active_tasks INTEGER NOT NULL DEFAULT 0,
	active_cores INTEGER NOT NULL DEFAULT 0,
	active_memory REAL NOT NULL DEFAULT 0,
	claimed INTEGER NOT NULL DEFAULT 0,
	successes INTEGER NOT NULL DEFAULT 0,
	failures INTEGER NOT NULL DEFAULT 0,
	rejected INTEGER NOT NULL DEFAULT 0,
	created_on DATETIME NOT NULL,
	modified_on DATETIME NOT NULL,
	UNIQUE (cluster, hostname, uuid),
	UNIQUE (name)
);

CREATE TABLE IF NOT EXISTS dataset (
	id %[1]s,
	kind %[2]s NOT NULL,
	name %[2]s NOT NULL,
	description %[3]s,
	created_on DATETIME NOT NULL,
	UNIQUE (name)
);

CREATE TABLE IF NOT EXISTS dataset_entry (
	dataset_id INTEGER NOT NULL,
	name %[2]s NOT NULL,
	molecule_id INTEGER NOT NULL,
	comment %[3]s,
	attributes %[3]s,
	PRIMARY KEY (dataset_id, name)
);

CREATE TABLE IF NOT EXISTS dataset_specification (
	dataset_id INTEGER NOT NULL,
	name %[2]s NOT NULL,
	specification_id INTEGER NOT NULL,
	PRIMARY KEY (dataset_id, name)
);

CREATE TABLE IF NOT EXISTS dataset_record (
	dataset_id INTEGER NOT NULL,
	entry_name %[2]s NOT NULL,
	specification_name %[2]s NOT NULL,
	record_id INTEGER NOT NULL,
	PRIMARY KEY (dataset_id, entry_name, specification_name)
);

CREATE TABLE IF NOT EXISTS internal_job (
	id %[1]s,
	unique_name %[2]s NOT NULL,
	serial_group %[2]s NOT NULL,
	scheduled_for DATETIME NOT NULL,
	payload %[3]s,
	claimed_by %[2]s,
	progress %[3]s,
	cancelled INTEGER NOT NULL DEFAULT 0,
	completed INTEGER NOT NULL DEFAULT 0,
	created_on DATETIME NOT NULL,
	UNIQUE (unique_name)
);

CREATE INDEX IF NOT EXISTS idx_internal_job_due ON internal_job (completed, cancelled, scheduled_for);
`, pk, txt, js)
}
