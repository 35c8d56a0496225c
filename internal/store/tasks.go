package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/verbatik/agent-stream/internal/apperr"
)

// CreateTask inserts a task. Status defaults to READY, timestamps are set.
func (d *DB) CreateTask(ctx context.Context, task *Task) error {
	if task.Status == "" {
		task.Status = TaskReady
	}
	task.CreatedAt = now()
	task.UpdatedAt = task.CreatedAt

	_, err := d.exec(ctx, `
	INSERT INTO tasks (id, title, thread_id, last_run_id, agent_id, hitl_mode, status, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID, task.Title, task.ThreadID, task.LastRunID, task.AgentID, task.HITLMode,
		string(task.Status), task.CreatedAt, task.UpdatedAt,
	)
	return apperr.Wrap(apperr.KindStorage, "creating task", err)
}

// GetTask loads a task by ID.
func (d *DB) GetTask(ctx context.Context, id string) (Task, error) {
	var task Task
	err := d.queryRow(ctx, `
	SELECT id, title, thread_id, last_run_id, agent_id, hitl_mode, status, created_at, updated_at
	FROM tasks WHERE id = ?`, id).Scan(
		&task.ID, &task.Title, &task.ThreadID, &task.LastRunID, &task.AgentID,
		&task.HITLMode, &task.Status, &task.CreatedAt, &task.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Task{}, apperr.Newf(apperr.KindNotFound, "task %s not found", id)
		}
		return Task{}, apperr.Wrap(apperr.KindStorage, "getting task", err)
	}
	return task, nil
}

// SetTaskStatus moves a task into a new status, enforcing the transition
// table. Setting the current status again is a no-op, except IN_PROGRESS:
// claiming a task that already runs an action is a conflict.
func (d *DB) SetTaskStatus(ctx context.Context, id string, status TaskStatus) error {
	task, err := d.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if task.Status == status {
		if status == TaskInProgress {
			return apperr.Newf(apperr.KindConflict, "task %s already running an action", id)
		}
		return nil
	}
	if !task.Status.CanTransition(status) {
		return apperr.Newf(apperr.KindConflict, "task %s cannot move from %s to %s", id, task.Status, status)
	}

	_, err = d.exec(ctx, `UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), now(), id)
	return apperr.Wrap(apperr.KindStorage, "updating task status", err)
}

// UpdateTaskRunID persists the latest run ID streamed for the task.
func (d *DB) UpdateTaskRunID(ctx context.Context, id, runID string) error {
	res, err := d.exec(ctx, `UPDATE tasks SET last_run_id = ?, updated_at = ? WHERE id = ?`,
		runID, now(), id)
	if err != nil {
		return apperr.Wrap(apperr.KindStorage, "updating task run id", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperr.Newf(apperr.KindNotFound, "task %s not found", id)
	}
	return nil
}

// CreateMessage inserts a message. Status defaults to PENDING.
func (d *DB) CreateMessage(ctx context.Context, msg *Message) error {
	if msg.Status == "" {
		msg.Status = MessagePending
	}
	msg.CreatedAt = now()
	msg.UpdatedAt = msg.CreatedAt

	files, err := json.Marshal(msg.Files)
	if err != nil {
		return apperr.Wrap(apperr.KindStorage, "encoding message files", err)
	}

	_, err = d.exec(ctx, `
	INSERT INTO messages (id, task_id, thread_id, last_run_id, sender, text, files, status, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.TaskID, msg.ThreadID, msg.LastRunID, msg.Sender, msg.Text,
		string(files), string(msg.Status), msg.CreatedAt, msg.UpdatedAt,
	)
	return apperr.Wrap(apperr.KindStorage, "creating message", err)
}

// GetMessage loads a message with its ordered content parts.
func (d *DB) GetMessage(ctx context.Context, id string) (Message, error) {
	var msg Message
	var files string
	err := d.queryRow(ctx, `
	SELECT id, task_id, thread_id, last_run_id, sender, text, files, status, created_at, updated_at
	FROM messages WHERE id = ?`, id).Scan(
		&msg.ID, &msg.TaskID, &msg.ThreadID, &msg.LastRunID, &msg.Sender,
		&msg.Text, &files, &msg.Status, &msg.CreatedAt, &msg.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Message{}, apperr.Newf(apperr.KindNotFound, "message %s not found", id)
		}
		return Message{}, apperr.Wrap(apperr.KindStorage, "getting message", err)
	}

	if files != "" && files != "null" {
		if err := json.Unmarshal([]byte(files), &msg.Files); err != nil {
			return Message{}, apperr.Wrap(apperr.KindStorage, "decoding message files", err)
		}
	}

	msg.Content, err = d.messageContent(ctx, id)
	if err != nil {
		return Message{}, err
	}
	return msg, nil
}

func (d *DB) messageContent(ctx context.Context, messageID string) ([]ContentPart, error) {
	rows, err := d.query(ctx, `
	SELECT seqno, run_id, type, content
	FROM message_content WHERE message_id = ? ORDER BY seqno ASC`, messageID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, "listing message content", err)
	}
	defer func() { _ = rows.Close() }()

	var parts []ContentPart
	for rows.Next() {
		var part ContentPart
		if err := rows.Scan(&part.Seqno, &part.RunID, &part.Type, &part.Content); err != nil {
			return nil, apperr.Wrap(apperr.KindStorage, "scanning content part", err)
		}
		parts = append(parts, part)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, "iterating content parts", err)
	}
	return parts, nil
}

// SetMessageStatus moves a message into a new status, enforcing the
// transition table. Setting the current status again is a no-op.
func (d *DB) SetMessageStatus(ctx context.Context, id string, status MessageStatus) error {
	msg, err := d.GetMessage(ctx, id)
	if err != nil {
		return err
	}
	if msg.Status == status {
		return nil
	}
	if !msg.Status.CanTransition(status) {
		return apperr.Newf(apperr.KindConflict, "message %s cannot move from %s to %s", id, msg.Status, status)
	}

	_, err = d.exec(ctx, `UPDATE messages SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), now(), id)
	return apperr.Wrap(apperr.KindStorage, "updating message status", err)
}

// UpdateMessageThread persists the thread created for the message.
func (d *DB) UpdateMessageThread(ctx context.Context, id, threadID string) error {
	return d.updateMessageField(ctx, id, "thread_id", threadID)
}

// UpdateMessageText replaces the message text. Used when a human answers an
// interrupt: the answer becomes the text the resumed run is fed.
func (d *DB) UpdateMessageText(ctx context.Context, id, text string) error {
	return d.updateMessageField(ctx, id, "text", text)
}

// UpdateMessageRunID persists the latest run ID streamed for the message.
func (d *DB) UpdateMessageRunID(ctx context.Context, id, runID string) error {
	return d.updateMessageField(ctx, id, "last_run_id", runID)
}

func (d *DB) updateMessageField(ctx context.Context, id, column, value string) error {
	res, err := d.exec(ctx, `UPDATE messages SET `+column+` = ?, updated_at = ? WHERE id = ?`,
		value, now(), id)
	if err != nil {
		return apperr.Wrap(apperr.KindStorage, "updating message", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperr.Newf(apperr.KindNotFound, "message %s not found", id)
	}
	return nil
}

// AppendMessageContent stores one more content part for the message, assigning
// the next seqno.
func (d *DB) AppendMessageContent(ctx context.Context, messageID string, part ContentPart) error {
	return d.transaction(ctx, func(tx *sql.Tx) error {
		var maxSeqno sql.NullInt64
		err := tx.QueryRowContext(ctx,
			d.rebind(`SELECT MAX(seqno) FROM message_content WHERE message_id = ?`),
			messageID).Scan(&maxSeqno)
		if err != nil {
			return apperr.Wrap(apperr.KindStorage, "reading content seqno", err)
		}

		part.Seqno = int(maxSeqno.Int64) + 1
		_, err = tx.ExecContext(ctx, d.rebind(`
		INSERT INTO message_content (message_id, seqno, run_id, type, content)
		VALUES (?, ?, ?, ?, ?)`),
			messageID, part.Seqno, part.RunID, part.Type, part.Content)
		return apperr.Wrap(apperr.KindStorage, "appending content part", err)
	})
}
