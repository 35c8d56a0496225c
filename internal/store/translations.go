package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/verbatik/agent-stream/internal/apperr"
)

// UpsertFilePreset creates or replaces a translation preset.
func (d *DB) UpsertFilePreset(ctx context.Context, preset *FilePreset) error {
	if preset.CreatedAt.IsZero() {
		preset.CreatedAt = now()
	}

	return d.transaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, d.rebind(`DELETE FROM file_presets WHERE id = ?`), preset.ID); err != nil {
			return apperr.Wrap(apperr.KindStorage, "replacing file preset", err)
		}
		_, err := tx.ExecContext(ctx, d.rebind(`
		INSERT INTO file_presets (id, name, agent_id, prompt, created_at)
		VALUES (?, ?, ?, ?, ?)`),
			preset.ID, preset.Name, preset.AgentID, preset.Prompt, preset.CreatedAt)
		return apperr.Wrap(apperr.KindStorage, "saving file preset", err)
	})
}

// GetFilePreset loads a preset by ID.
func (d *DB) GetFilePreset(ctx context.Context, id string) (FilePreset, error) {
	var preset FilePreset
	err := d.queryRow(ctx, `
	SELECT id, name, agent_id, prompt, created_at
	FROM file_presets WHERE id = ?`, id).Scan(
		&preset.ID, &preset.Name, &preset.AgentID, &preset.Prompt, &preset.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return FilePreset{}, apperr.Newf(apperr.KindNotFound, "file preset %s not found", id)
		}
		return FilePreset{}, apperr.Wrap(apperr.KindStorage, "getting file preset", err)
	}
	return preset, nil
}

// UpsertOriginalText creates or replaces the source text of a file.
func (d *DB) UpsertOriginalText(ctx context.Context, text *OriginalText) error {
	if text.CreatedAt.IsZero() {
		text.CreatedAt = now()
	}

	return d.transaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, d.rebind(`DELETE FROM original_texts WHERE file_id = ?`), text.FileID); err != nil {
			return apperr.Wrap(apperr.KindStorage, "replacing original text", err)
		}
		_, err := tx.ExecContext(ctx, d.rebind(`
		INSERT INTO original_texts (file_id, raw, created_at)
		VALUES (?, ?, ?)`),
			text.FileID, text.Raw, text.CreatedAt)
		return apperr.Wrap(apperr.KindStorage, "saving original text", err)
	})
}

// GetOriginalText loads the source text of a file.
func (d *DB) GetOriginalText(ctx context.Context, fileID string) (OriginalText, error) {
	var text OriginalText
	err := d.queryRow(ctx, `
	SELECT file_id, raw, created_at
	FROM original_texts WHERE file_id = ?`, fileID).Scan(
		&text.FileID, &text.Raw, &text.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return OriginalText{}, apperr.Newf(apperr.KindNotFound, "original text for file %s not found", fileID)
		}
		return OriginalText{}, apperr.Wrap(apperr.KindStorage, "getting original text", err)
	}
	return text, nil
}

// CreateTranslation inserts a translation job. Status defaults to READY.
func (d *DB) CreateTranslation(ctx context.Context, tr *Translation) error {
	if tr.Status == "" {
		tr.Status = TaskReady
	}
	tr.CreatedAt = now()
	tr.UpdatedAt = tr.CreatedAt

	_, err := d.exec(ctx, `
	INSERT INTO translations (id, file_id, preset_id, status, message, agent_data, translated_text, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tr.ID, tr.FileID, tr.PresetID, string(tr.Status), tr.Message,
		tr.AgentData, tr.TranslatedText, tr.CreatedAt, tr.UpdatedAt,
	)
	return apperr.Wrap(apperr.KindStorage, "creating translation", err)
}

// GetTranslation loads a translation job by ID.
func (d *DB) GetTranslation(ctx context.Context, id string) (Translation, error) {
	row := d.queryRow(ctx, `
	SELECT id, file_id, preset_id, status, message, agent_data, translated_text, created_at, updated_at
	FROM translations WHERE id = ?`, id)

	tr, err := scanTranslation(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Translation{}, apperr.Newf(apperr.KindNotFound, "translation %s not found", id)
		}
		return Translation{}, apperr.Wrap(apperr.KindStorage, "getting translation", err)
	}
	return tr, nil
}

// ListTranslations returns all translation jobs for a file, newest first.
func (d *DB) ListTranslations(ctx context.Context, fileID string) ([]Translation, error) {
	rows, err := d.query(ctx, `
	SELECT id, file_id, preset_id, status, message, agent_data, translated_text, created_at, updated_at
	FROM translations WHERE file_id = ? ORDER BY created_at DESC, id DESC`, fileID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, "listing translations", err)
	}
	defer func() { _ = rows.Close() }()

	var translations []Translation
	for rows.Next() {
		tr, err := scanTranslation(rows.Scan)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindStorage, "scanning translation", err)
		}
		translations = append(translations, tr)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, "iterating translations", err)
	}
	return translations, nil
}

func scanTranslation(scan func(dest ...any) error) (Translation, error) {
	var tr Translation
	err := scan(
		&tr.ID, &tr.FileID, &tr.PresetID, &tr.Status, &tr.Message,
		&tr.AgentData, &tr.TranslatedText, &tr.CreatedAt, &tr.UpdatedAt,
	)
	return tr, err
}

// SetTranslationStatus moves a translation job into a new status, enforcing
// the transition table. Setting the current status again is a no-op.
func (d *DB) SetTranslationStatus(ctx context.Context, id string, status TranslationStatus) error {
	tr, err := d.GetTranslation(ctx, id)
	if err != nil {
		return err
	}
	if tr.Status == status {
		return nil
	}
	if !tr.Status.CanTransition(status) {
		return apperr.Newf(apperr.KindConflict, "translation %s cannot move from %s to %s", id, tr.Status, status)
	}

	_, err = d.exec(ctx, `UPDATE translations SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), now(), id)
	return apperr.Wrap(apperr.KindStorage, "updating translation status", err)
}

// FinalizeTranslation stores the run result and moves the job to its terminal
// status. agentData carries the collector result as JSON; message carries the
// user-facing failure text when the run failed.
func (d *DB) FinalizeTranslation(ctx context.Context, id string, agentData string, status TranslationStatus, message string) error {
	tr, err := d.GetTranslation(ctx, id)
	if err != nil {
		return err
	}
	if tr.Status != status && !tr.Status.CanTransition(status) {
		return apperr.Newf(apperr.KindConflict, "translation %s cannot move from %s to %s", id, tr.Status, status)
	}

	_, err = d.exec(ctx, `
	UPDATE translations SET status = ?, message = ?, agent_data = ?, updated_at = ?
	WHERE id = ?`,
		string(status), message, agentData, now(), id)
	return apperr.Wrap(apperr.KindStorage, "finalizing translation", err)
}

// UpdateTranslationText saves an edited translated text on the job.
func (d *DB) UpdateTranslationText(ctx context.Context, id, translatedText string) error {
	res, err := d.exec(ctx, `
	UPDATE translations SET translated_text = ?, updated_at = ? WHERE id = ?`,
		translatedText, now(), id)
	if err != nil {
		return apperr.Wrap(apperr.KindStorage, "updating translation text", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperr.Newf(apperr.KindNotFound, "translation %s not found", id)
	}
	return nil
}
