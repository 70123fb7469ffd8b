// Package store is the clearinghouse's own Postgres-backed staging area:
// registering a submission, uploading its artifact, exploding staged rows
// into the public schema, and tearing a submission back down again.
package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// Submission states mirror clearing_house.tbl_clearinghouse_submission_states.
const (
	StateNew      = 1
	StatePending  = 2
	StateExploded = 3
	StateRemoved  = 4
)

// Client is the store-client collaborator: every operation named in the
// CLI surface (register, upload, extract, explode, set-pending, remove) is
// one method here, each running in its own pooled connection.
type Client struct {
	pool         *pgxpool.Pool
	uploadUserID int
}

// New wraps an already-connected pool. uploadUserID is recorded against
// every submission this client registers.
func New(pool *pgxpool.Pool, uploadUserID int) *Client {
	return &Client{pool: pool, uploadUserID: uploadUserID}
}

// Register inserts a new submission row in state "New" and returns its id.
func (c *Client) Register(ctx context.Context, dataTypes string) (int64, error) {
	const sql = `
		insert into clearing_house.tbl_clearinghouse_submissions
			(submission_state_id, data_types, upload_user_id, xml, status_text)
		values ($1, $2, $3, null, $4)
		returning submission_id`

	var id int64
	err := c.pool.QueryRow(ctx, sql, StateNew, dataTypes, c.uploadUserID, "New").Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("register submission: %w", err)
	}
	log.Info().Int64("submission_id", id).Msg("submission registered")
	return id, nil
}

// UploadXML stores the rendered XML artifact against the submission row.
func (c *Client) UploadXML(ctx context.Context, submissionID int64, xml string) error {
	const sql = `update clearing_house.tbl_clearinghouse_submissions set xml = $1 where submission_id = $2`
	if _, err := c.pool.Exec(ctx, sql, xml, submissionID); err != nil {
		return fmt.Errorf("upload xml for submission %d: %w", submissionID, err)
	}
	return nil
}

// ExtractToStagingTables runs the four extraction passes — tables, columns,
// records, values — that turn the uploaded XML into staging rows.
func (c *Client) ExtractToStagingTables(ctx context.Context, submissionID int64) error {
	steps := []string{
		"clearing_house.fn_extract_and_store_submission_tables",
		"clearing_house.fn_extract_and_store_submission_columns",
		"clearing_house.fn_extract_and_store_submission_records",
		"clearing_house.fn_extract_and_store_submission_values",
	}
	for _, fn := range steps {
		if _, err := c.pool.Exec(ctx, fmt.Sprintf("select %s($1)", fn), submissionID); err != nil {
			return fmt.Errorf("extract submission %d via %s: %w", submissionID, fn, err)
		}
	}
	return nil
}

// tableNames returns every table the submission's staged XML content
// actually touched, so ExplodeToPublicTables only processes those.
func (c *Client) tableNames(ctx context.Context, submissionID int64) ([]string, error) {
	const sql = `
		select distinct t.table_name_underscored
		from clearing_house.tbl_clearinghouse_submission_tables t
		join clearing_house.tbl_clearinghouse_submission_xml_content_tables c
			on c.table_id = t.table_id
		where c.submission_id = $1
		order by t.table_name_underscored`

	rows, err := c.pool.Query(ctx, sql, submissionID)
	if err != nil {
		return nil, fmt.Errorf("list submission %d tables: %w", submissionID, err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// ExplodeOptions controls ExplodeToPublicTables' behavior.
type ExplodeOptions struct {
	DryRun            bool // report what would happen without copying rows
	AddMissingColumns bool // add columns the public table lacks before copying
}

// ExplodeToPublicTables copies staged values into their public entity
// tables, one table at a time, in the order tableNames reports.
func (c *Client) ExplodeToPublicTables(ctx context.Context, submissionID int64, opts ExplodeOptions) error {
	names, err := c.tableNames(ctx, submissionID)
	if err != nil {
		return err
	}
	for _, table := range names {
		log.Info().Str("table", table).Msg("exploding staged table")
		if opts.AddMissingColumns {
			const sql = `select clearing_house.fn_add_new_public_db_columns($1, $2)`
			if _, err := c.pool.Exec(ctx, sql, submissionID, table); err != nil {
				return fmt.Errorf("add missing columns for %s: %w", table, err)
			}
		}
		if opts.DryRun {
			continue
		}
		const sql = `select clearing_house.fn_copy_extracted_values_to_entity_table($1, $2)`
		if _, err := c.pool.Exec(ctx, sql, submissionID, table); err != nil {
			return fmt.Errorf("copy extracted values for %s: %w", table, err)
		}
	}
	return nil
}

// SetPending marks a submission as pending review.
func (c *Client) SetPending(ctx context.Context, submissionID int64) error {
	const sql = `
		update clearing_house.tbl_clearinghouse_submissions
		set submission_state_id = $1, status_text = $2
		where submission_id = $3`
	if _, err := c.pool.Exec(ctx, sql, StatePending, "Pending", submissionID); err != nil {
		return fmt.Errorf("set submission %d pending: %w", submissionID, err)
	}
	return nil
}

// Remove deletes a submission's staged (and optionally exploded and header)
// rows via the clearing_house cleanup procedure.
func (c *Client) Remove(ctx context.Context, submissionID int64, clearHeader, clearExploded bool) error {
	const sql = `select clearing_house.fn_delete_submission($1, $2, $3)`
	if _, err := c.pool.Exec(ctx, sql, submissionID, clearHeader, clearExploded); err != nil {
		return fmt.Errorf("remove submission %d: %w", submissionID, err)
	}
	return nil
}
