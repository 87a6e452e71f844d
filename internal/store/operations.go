package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"contentpipe/internal/model"
)

// InsertItem implements the ingestion contract (spec.md §6): a new item
// enters at stage=triage, status=pending, retry_count=0. Duplicate source
// ids are silently ignored (spec.md §3.1 invariant: source id uniqueness).
func (s *Store) InsertItem(ctx context.Context, it *model.Item) (int64, bool, error) {
	if it.Metadata.Priority == 0 {
		it.Metadata.Priority = model.DefaultPriority
	}
	metaJSON, err := model.MarshalMetadata(it.Metadata)
	if err != nil {
		return 0, false, err
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO items
			(source_id, title, author, body, source_url, source_created_at, stage, status, retry_count, metadata, priority)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		it.SourceID, it.Title, it.Author, it.Body, it.SourceURL, it.SourceCreatedAt,
		model.StageTriage, model.StatusPending, metaJSON, it.Metadata.Priority,
	)
	if err != nil {
		return 0, false, fmt.Errorf("insert item: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return 0, false, fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		// Duplicate source id: look up the existing row's id for the caller.
		var id int64
		if err := s.db.QueryRowContext(ctx, `SELECT id FROM items WHERE source_id = ?`, it.SourceID).Scan(&id); err != nil {
			return 0, false, fmt.Errorf("lookup existing item: %w", err)
		}
		return id, false, nil
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, false, fmt.Errorf("last insert id: %w", err)
	}
	return id, true, nil
}

// ClaimPending atomically selects up to limit items in stage that are either
// freshly pending (and past any retry backoff window) or stuck in
// processing past staleCutoff, marks them processing and owned by
// workerID, and returns the updated rows. Implements spec.md §4.1
// claim_pending.
func (s *Store) ClaimPending(ctx context.Context, stage model.Stage, limit int, now, staleCutoff, retryBackoffCutoff time.Time, workerID string) ([]*model.Item, error) {
	if limit <= 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin claim tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
		SELECT id FROM items
		WHERE stage = ?
		  AND (
		        (status = 'pending' AND (assigned_at IS NULL OR assigned_at <= ?))
		     OR (status = 'processing' AND assigned_at < ?)
		      )
		ORDER BY priority DESC, created_at ASC
		LIMIT ?`,
		stage, retryBackoffCutoff, staleCutoff, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select claimable: %w", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan claimable id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("iterate claimable: %w", err)
	}
	_ = rows.Close()

	if len(ids) == 0 {
		return nil, tx.Commit()
	}

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `
			UPDATE items SET status = 'processing', assigned_to = ?, assigned_at = ?
			WHERE id = ?`, workerID, now, id); err != nil {
			return nil, fmt.Errorf("claim item %d: %w", id, err)
		}
	}

	items := make([]*model.Item, 0, len(ids))
	for _, id := range ids {
		it, err := scanItem(tx.QueryRowContext(ctx, itemSelectSQL+" WHERE id = ?", id))
		if err != nil {
			return nil, fmt.Errorf("reload claimed item %d: %w", id, err)
		}
		items = append(items, it)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim tx: %w", err)
	}
	return items, nil
}

// WriteArtifactAndTransition appends a StageArtifact and applies the
// directive's transition to the item, atomically, per spec.md §4.1. It
// fails with ErrAlreadyDecided if the item is not currently processing
// (i.e. a prior call for this attempt already transitioned it).
func (s *Store) WriteArtifactAndTransition(ctx context.Context, itemID int64, stage model.Stage, payload string, dir model.Directive, now time.Time, maxRetryAttempts int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transition tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var status model.Status
	var retryCount int
	err = tx.QueryRowContext(ctx, `SELECT status, retry_count FROM items WHERE id = ?`, itemID).Scan(&status, &retryCount)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("load item %d: %w", itemID, err)
	}
	if status != model.StatusProcessing {
		return ErrAlreadyDecided
	}

	artifactID := uuid.NewString()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO artifacts (id, item_id, stage, payload, created_at) VALUES (?, ?, ?, ?, ?)`,
		artifactID, itemID, stage, payload, now,
	); err != nil {
		return fmt.Errorf("insert artifact: %w", err)
	}

	switch dir.Kind {
	case model.DirectiveAdvance:
		if _, err := tx.ExecContext(ctx, `
			UPDATE items SET stage = ?, status = 'pending', assigned_to = NULL, assigned_at = NULL,
				processed_at = ?, retry_count = 0
			WHERE id = ?`, dir.Next, now, itemID); err != nil {
			return fmt.Errorf("advance item: %w", err)
		}
		if dir.Priority != nil {
			if err := reviseItemPriorityTx(ctx, tx, itemID, *dir.Priority); err != nil {
				return err
			}
		}
	case model.DirectiveReject:
		if _, err := tx.ExecContext(ctx, `
			UPDATE items SET stage = 'rejected', status = 'rejected', assigned_to = NULL, assigned_at = NULL,
				processed_at = ?
			WHERE id = ?`, now, itemID); err != nil {
			return fmt.Errorf("reject item: %w", err)
		}
	case model.DirectiveComplete:
		if _, err := tx.ExecContext(ctx, `
			UPDATE items SET stage = 'completed', status = 'completed', assigned_to = NULL, assigned_at = NULL,
				processed_at = ?
			WHERE id = ?`, now, itemID); err != nil {
			return fmt.Errorf("complete item: %w", err)
		}
	case model.DirectiveRetry:
		newCount := retryCount + 1
		if newCount >= maxRetryAttempts {
			if _, err := tx.ExecContext(ctx, `
				UPDATE items SET status = 'failed', assigned_to = NULL, assigned_at = ?, retry_count = ?
				WHERE id = ?`, now, newCount, itemID); err != nil {
				return fmt.Errorf("fail item: %w", err)
			}
			if err := appendFallbackTx(ctx, tx, itemID, stage, model.FallbackRetryExhausted, dir.Reason, now); err != nil {
				return err
			}
		} else {
			if _, err := tx.ExecContext(ctx, `
				UPDATE items SET status = 'pending', assigned_to = NULL, assigned_at = ?, retry_count = ?
				WHERE id = ?`, now, newCount, itemID); err != nil {
				return fmt.Errorf("retry item: %w", err)
			}
		}
	default:
		return ErrInvalidDirective
	}

	return tx.Commit()
}

// RecoverStuck returns processing items in any stage whose assigned_at is
// older than threshold to pending, incrementing retry_count. Implements
// spec.md §4.1 recover_stuck / §4.6 stuck recovery.
func (s *Store) RecoverStuck(ctx context.Context, now time.Time, threshold time.Duration) ([]*model.Item, error) {
	cutoff := now.Add(-threshold)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin recover tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `SELECT id FROM items WHERE status = 'processing' AND assigned_at < ?`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("select stuck: %w", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan stuck id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	items := make([]*model.Item, 0, len(ids))
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `
			UPDATE items SET status = 'pending', assigned_to = NULL, assigned_at = ?, retry_count = retry_count + 1
			WHERE id = ?`, now, id); err != nil {
			return nil, fmt.Errorf("recover item %d: %w", id, err)
		}
		it, err := scanItem(tx.QueryRowContext(ctx, itemSelectSQL+" WHERE id = ?", id))
		if err != nil {
			return nil, fmt.Errorf("reload recovered item %d: %w", id, err)
		}
		items = append(items, it)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit recover tx: %w", err)
	}
	return items, nil
}

// StuckReport returns processing items past threshold without mutating
// state, for the control API's read-only stuck-detection query.
func (s *Store) StuckReport(ctx context.Context, now time.Time, threshold time.Duration) ([]*model.Item, error) {
	cutoff := now.Add(-threshold)
	rows, err := s.db.QueryContext(ctx, itemSelectSQL+` WHERE status = 'processing' AND assigned_at < ? ORDER BY assigned_at ASC`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("query stuck report: %w", err)
	}
	defer rows.Close()
	return scanItems(rows)
}

// ReadPriorArtifacts returns the latest artifact payload per stage for the
// stages that precede upToStage in the fixed pipeline order, keyed by
// stage name. Implements spec.md §4.1 read_prior_artifacts.
func (s *Store) ReadPriorArtifacts(ctx context.Context, itemID int64, upToStage model.Stage) (map[model.Stage]string, error) {
	result := make(map[model.Stage]string)
	for _, st := range model.Stages {
		if st == upToStage {
			break
		}
		var payload string
		err := s.db.QueryRowContext(ctx, `
			SELECT payload FROM artifacts WHERE item_id = ? AND stage = ? ORDER BY created_at DESC LIMIT 1`,
			itemID, st,
		).Scan(&payload)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read prior artifact for stage %s: %w", st, err)
		}
		result[st] = payload
	}
	return result, nil
}

// GetItemHistory returns the ordered list of artifacts for an item, oldest
// first, for the control API's per-item history query.
func (s *Store) GetItemHistory(ctx context.Context, itemID int64) ([]*model.StageArtifact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, item_id, stage, payload, created_at FROM artifacts
		WHERE item_id = ? ORDER BY created_at ASC`, itemID)
	if err != nil {
		return nil, fmt.Errorf("query item history: %w", err)
	}
	defer rows.Close()

	var out []*model.StageArtifact
	for rows.Next() {
		a := &model.StageArtifact{}
		if err := rows.Scan(&a.ID, &a.ItemID, &a.Stage, &a.Payload, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// StageStatusCount is one row of the count_by_stage_and_status aggregate.
type StageStatusCount struct {
	Oldest time.Time
	Stage  model.Stage
	Status model.Status
	Count  int
}

// CountByStageAndStatus implements spec.md §4.1 count_by_stage_and_status.
func (s *Store) CountByStageAndStatus(ctx context.Context) ([]StageStatusCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT stage, status, COUNT(*), MIN(created_at) FROM items GROUP BY stage, status ORDER BY stage, status`)
	if err != nil {
		return nil, fmt.Errorf("count by stage and status: %w", err)
	}
	defer rows.Close()

	var out []StageStatusCount
	for rows.Next() {
		var c StageStatusCount
		if err := rows.Scan(&c.Stage, &c.Status, &c.Count, &c.Oldest); err != nil {
			return nil, fmt.Errorf("scan stage status count: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// QueueStat is one row of the richer per-(stage,status) stat used by the
// control API's queue-stats operation (spec.md §4.7), adding average
// retry count alongside the count and oldest timestamp.
type QueueStat struct {
	Oldest        time.Time
	Stage         model.Stage
	Status        model.Status
	Count         int
	AvgRetryCount float64
}

// QueueStats implements the control API's queue-stats operation.
func (s *Store) QueueStats(ctx context.Context) ([]QueueStat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT stage, status, COUNT(*), AVG(retry_count), MIN(created_at)
		FROM items GROUP BY stage, status ORDER BY stage, status`)
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()

	var out []QueueStat
	for rows.Next() {
		var q QueueStat
		if err := rows.Scan(&q.Stage, &q.Status, &q.Count, &q.AvgRetryCount, &q.Oldest); err != nil {
			return nil, fmt.Errorf("scan queue stat: %w", err)
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

// ListPending lists up to limit pending items in stage, per spec.md §4.1 list_pending.
func (s *Store) ListPending(ctx context.Context, stage model.Stage, limit int) ([]*model.Item, error) {
	rows, err := s.db.QueryContext(ctx, itemSelectSQL+`
		WHERE stage = ? AND status = 'pending' ORDER BY priority DESC, created_at ASC LIMIT ?`, stage, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	defer rows.Close()
	return scanItems(rows)
}

// ListReadyForPosting resolves the "post_queue completion visibility" open
// question (DESIGN.md) with a dedicated view: pending items in the
// terminal post_queue stage, ready for the outbound posting collaborator.
func (s *Store) ListReadyForPosting(ctx context.Context, limit int) ([]*model.Item, error) {
	return s.ListPending(ctx, model.StagePostQueue, limit)
}

// ListRejected lists up to limit rejected items, per spec.md §4.1 list_rejected.
func (s *Store) ListRejected(ctx context.Context, limit int) ([]*model.Item, error) {
	rows, err := s.db.QueryContext(ctx, itemSelectSQL+`
		WHERE status = 'rejected' ORDER BY processed_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list rejected: %w", err)
	}
	defer rows.Close()
	return scanItems(rows)
}

// ListFailed lists failed items awaiting operator resubmission.
func (s *Store) ListFailed(ctx context.Context, limit int) ([]*model.Item, error) {
	rows, err := s.db.QueryContext(ctx, itemSelectSQL+`
		WHERE status = 'failed' ORDER BY assigned_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list failed: %w", err)
	}
	defer rows.Close()
	return scanItems(rows)
}

// ListFallback lists up to limit fallback records, newest first, per
// spec.md §4.1 list_fallback.
func (s *Store) ListFallback(ctx context.Context, limit int) ([]*model.FallbackRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, item_id, stage, reason, detail, created_at FROM fallback
		ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list fallback: %w", err)
	}
	defer rows.Close()

	var out []*model.FallbackRecord
	for rows.Next() {
		f := &model.FallbackRecord{}
		if err := rows.Scan(&f.ID, &f.ItemID, &f.Stage, &f.Reason, &f.Detail, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan fallback: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// AppendFallback appends a fallback record, per spec.md §4.1 append_fallback.
func (s *Store) AppendFallback(ctx context.Context, itemID int64, stage model.Stage, reason model.FallbackReason, detail string, now time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin fallback tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := appendFallbackTx(ctx, tx, itemID, stage, reason, detail, now); err != nil {
		return err
	}
	return tx.Commit()
}

func appendFallbackTx(ctx context.Context, tx *sql.Tx, itemID int64, stage model.Stage, reason model.FallbackReason, detail string, now time.Time) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO fallback (id, item_id, stage, reason, detail, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), itemID, stage, reason, detail, now,
	)
	if err != nil {
		return fmt.Errorf("append fallback: %w", err)
	}
	return nil
}

// reviseItemPriorityTx merges an updated priority into an item's metadata
// and the denormalized priority column an earlier stage's handler set via
// an advance directive, so downstream stages inherit the revised urgency.
func reviseItemPriorityTx(ctx context.Context, tx *sql.Tx, itemID int64, priority int) error {
	var metaJSON string
	if err := tx.QueryRowContext(ctx, `SELECT metadata FROM items WHERE id = ?`, itemID).Scan(&metaJSON); err != nil {
		return fmt.Errorf("load metadata for priority revision: %w", err)
	}
	meta, err := model.UnmarshalMetadata(metaJSON)
	if err != nil {
		return fmt.Errorf("unmarshal metadata for priority revision: %w", err)
	}
	meta.Priority = priority
	newMetaJSON, err := model.MarshalMetadata(meta)
	if err != nil {
		return fmt.Errorf("marshal metadata for priority revision: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE items SET metadata = ?, priority = ? WHERE id = ?`,
		newMetaJSON, priority, itemID); err != nil {
		return fmt.Errorf("revise item priority: %w", err)
	}
	return nil
}

// ResubmitToPending moves a failed item back to pending for reprocessing,
// per the control API's operator-resubmission story (spec.md,
// FallbackRecord description). Items in any other status, including
// pending items that carry fallback records, are left alone and
// ErrNotFound is returned.
func (s *Store) ResubmitToPending(ctx context.Context, itemID int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE items SET status = 'pending', assigned_to = NULL, assigned_at = NULL, retry_count = 0
		WHERE id = ? AND status = 'failed'`, itemID)
	if err != nil {
		return fmt.Errorf("resubmit item %d: %w", itemID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- endpoint bindings ---

// UpsertEndpoint writes a full binding for a stage, per spec.md §4.1 upsert_endpoint.
func (s *Store) UpsertEndpoint(ctx context.Context, b model.EndpointBinding) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO endpoints (stage, provider, base_url, model, auth_env_key, concurrency_cap, timeout_seconds, daily_budget_usd)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(stage) DO UPDATE SET
			provider = excluded.provider, base_url = excluded.base_url, model = excluded.model,
			auth_env_key = excluded.auth_env_key, concurrency_cap = excluded.concurrency_cap,
			timeout_seconds = excluded.timeout_seconds, daily_budget_usd = excluded.daily_budget_usd`,
		b.Stage, b.Provider, b.BaseURL, b.Model, b.AuthEnvKey, b.ConcurrencyCap,
		int(b.Timeout.Seconds()), b.DailyBudgetUSD,
	)
	if err != nil {
		return fmt.Errorf("upsert endpoint %s: %w", b.Stage, err)
	}
	return nil
}

// GetEndpoint implements spec.md §4.1 get_endpoint.
func (s *Store) GetEndpoint(ctx context.Context, stage model.Stage) (model.EndpointBinding, error) {
	var b model.EndpointBinding
	var timeoutSeconds int
	err := s.db.QueryRowContext(ctx, `
		SELECT stage, provider, base_url, model, auth_env_key, concurrency_cap, timeout_seconds, daily_budget_usd
		FROM endpoints WHERE stage = ?`, stage,
	).Scan(&b.Stage, &b.Provider, &b.BaseURL, &b.Model, &b.AuthEnvKey, &b.ConcurrencyCap, &timeoutSeconds, &b.DailyBudgetUSD)
	if errors.Is(err, sql.ErrNoRows) {
		return model.EndpointBinding{}, ErrNotFound
	}
	if err != nil {
		return model.EndpointBinding{}, fmt.Errorf("get endpoint %s: %w", stage, err)
	}
	b.Timeout = time.Duration(timeoutSeconds) * time.Second
	return b, nil
}

// ListEndpoints returns all configured endpoint bindings.
func (s *Store) ListEndpoints(ctx context.Context) ([]model.EndpointBinding, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT stage, provider, base_url, model, auth_env_key, concurrency_cap, timeout_seconds, daily_budget_usd
		FROM endpoints ORDER BY stage`)
	if err != nil {
		return nil, fmt.Errorf("list endpoints: %w", err)
	}
	defer rows.Close()

	var out []model.EndpointBinding
	for rows.Next() {
		var b model.EndpointBinding
		var timeoutSeconds int
		if err := rows.Scan(&b.Stage, &b.Provider, &b.BaseURL, &b.Model, &b.AuthEnvKey, &b.ConcurrencyCap, &timeoutSeconds, &b.DailyBudgetUSD); err != nil {
			return nil, fmt.Errorf("scan endpoint: %w", err)
		}
		b.Timeout = time.Duration(timeoutSeconds) * time.Second
		out = append(out, b)
	}
	return out, rows.Err()
}

// --- settings ---

func (s *Store) seedDefaultSettings() error {
	for k, v := range model.DefaultSettings() {
		if _, err := s.db.Exec(`INSERT OR IGNORE INTO settings (key, value) VALUES (?, ?)`, k, v); err != nil {
			return fmt.Errorf("seed setting %s: %w", k, err)
		}
	}
	return nil
}

// UpsertSetting implements spec.md §4.1 upsert_setting, rejecting unknown keys.
func (s *Store) UpsertSetting(ctx context.Context, key, value string) error {
	if !model.IsRecognizedSetting(key) {
		return fmt.Errorf("%w: %s", ErrUnknownSetting, key)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("upsert setting %s: %w", key, err)
	}
	return nil
}

// GetSetting implements spec.md §4.1 get_setting.
func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		if def, ok := model.DefaultSettings()[key]; ok {
			return def, nil
		}
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get setting %s: %w", key, err)
	}
	return value, nil
}

// AllSettings returns every recognized setting with its current or default value.
func (s *Store) AllSettings(ctx context.Context) (map[string]string, error) {
	out := model.DefaultSettings()
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return nil, fmt.Errorf("all settings: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan setting: %w", err)
		}
		out[k] = v
	}
	return out, rows.Err()
}

// --- pause flags ---

// SetPause implements spec.md §4.1 set_pause; idempotent.
func (s *Store) SetPause(ctx context.Context, stage model.Stage, paused bool) error {
	v := 0
	if paused {
		v = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pause_flags (stage, paused) VALUES (?, ?)
		ON CONFLICT(stage) DO UPDATE SET paused = excluded.paused`, stage, v)
	if err != nil {
		return fmt.Errorf("set pause %s: %w", stage, err)
	}
	return nil
}

// GetPause implements spec.md §4.1 get_pause.
func (s *Store) GetPause(ctx context.Context, stage model.Stage) (bool, error) {
	var v int
	err := s.db.QueryRowContext(ctx, `SELECT paused FROM pause_flags WHERE stage = ?`, stage).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get pause %s: %w", stage, err)
	}
	return v != 0, nil
}

// --- scanning helpers ---

const itemSelectSQL = `
	SELECT id, source_id, title, author, body, source_url, source_created_at, created_at,
	       stage, status, assigned_to, assigned_at, processed_at, retry_count, metadata
	FROM items`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*model.Item, error) {
	it := &model.Item{}
	var metaJSON string
	err := row.Scan(
		&it.ID, &it.SourceID, &it.Title, &it.Author, &it.Body, &it.SourceURL, &it.SourceCreatedAt, &it.CreatedAt,
		&it.Stage, &it.Status, &it.AssignedTo, &it.AssignedAt, &it.ProcessedAt, &it.RetryCount, &metaJSON,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan item: %w", err)
	}
	meta, err := model.UnmarshalMetadata(metaJSON)
	if err != nil {
		return nil, err
	}
	it.Metadata = meta
	return it, nil
}

func scanItems(rows *sql.Rows) ([]*model.Item, error) {
	var out []*model.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// GetItem fetches a single item by id.
func (s *Store) GetItem(ctx context.Context, id int64) (*model.Item, error) {
	return scanItem(s.db.QueryRowContext(ctx, itemSelectSQL+" WHERE id = ?", id))
}
