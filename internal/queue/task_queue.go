package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/venator/internal/models"
)

// ErrNoTask is returned when no task is visible yet
var ErrNoTask = errors.New("no tasks ready")

// queuedTask is the internal structure stored in Badger. VisibleAt encodes
// both normal delivery and retry backoff: a task requeued with a delay simply
// becomes visible later, so no worker ever sleeps holding a goroutine.
type queuedTask struct {
	ID           string      `json:"id"`
	Body         models.Task `json:"body"`
	EnqueuedAt   time.Time   `json:"enqueued_at"`
	VisibleAt    time.Time   `json:"visible_at"`
	ReceiveCount int         `json:"receive_count"`
}

// TaskQueue implements a persistent task queue using BadgerDB
type TaskQueue struct {
	db                *badger.DB
	queueName         string
	visibilityTimeout time.Duration
	maxReceive        int
	logger            arbor.ILogger

	dropMu      sync.Mutex
	dropHandler func(models.Task)
}

// SetDropHandler registers a callback invoked whenever Receive drops a task
// that exceeded the max receive count. The queue deletes the task either way;
// the handler lets the owner account for it instead of losing it silently.
func (q *TaskQueue) SetDropHandler(fn func(models.Task)) {
	q.dropMu.Lock()
	q.dropHandler = fn
	q.dropMu.Unlock()
}

// NewTaskQueue creates a new Badger-backed task queue
func NewTaskQueue(db *badger.DB, queueName string, visibilityTimeout time.Duration, maxReceive int, logger arbor.ILogger) (*TaskQueue, error) {
	if db == nil {
		return nil, errors.New("badger db is required")
	}
	if queueName == "" {
		return nil, errors.New("queue name is required")
	}
	if visibilityTimeout <= 0 {
		visibilityTimeout = 5 * time.Minute
	}
	if maxReceive <= 0 {
		maxReceive = 3
	}

	return &TaskQueue{
		db:                db,
		queueName:         queueName,
		visibilityTimeout: visibilityTimeout,
		maxReceive:        maxReceive,
		logger:            logger,
	}, nil
}

// Enqueue adds a task to the queue, immediately visible.
func (q *TaskQueue) Enqueue(ctx context.Context, task *models.Task) error {
	return q.EnqueueAfter(ctx, task, 0)
}

// EnqueueAfter adds a task that becomes visible after the given delay. The
// retry controller uses this for backoff: delay now, redeliver later, without
// parking a worker.
func (q *TaskQueue) EnqueueAfter(ctx context.Context, task *models.Task, delay time.Duration) error {
	id := uuid.New().String()
	now := time.Now()

	qt := queuedTask{
		ID:         id,
		Body:       *task,
		EnqueuedAt: now,
		VisibleAt:  now.Add(delay),
	}

	data, err := json.Marshal(qt)
	if err != nil {
		return fmt.Errorf("failed to marshal queued task: %w", err)
	}

	// Message data lives at queue:{name}:msg:{id}; a visibility index at
	// queue:{name}:index:{visibleAt}:{id} keeps ready tasks scannable in
	// timestamp order.
	return q.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(q.msgKey(id), data); err != nil {
			return err
		}
		return txn.Set(q.indexKey(qt.VisibleAt, id), []byte{})
	})
}

// Receive pulls the next visible task from the queue. The returned done
// function removes the task permanently; if it is never called, the task
// reappears after the visibility timeout.
func (q *TaskQueue) Receive(ctx context.Context) (*models.Task, func() error, error) {
	var qt queuedTask
	var taskID string
	var dropped []models.Task
	found := false

	err := q.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		prefix := []byte(fmt.Sprintf("queue:%s:index:", q.queueName))
		it := txn.NewIterator(opts)
		defer it.Close()

		now := time.Now()
		var oldIndexKey []byte

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().KeyCopy(nil)

			ts, id, err := q.parseIndexKey(key)
			if err != nil {
				continue
			}

			// Index keys sort by timestamp, so the first future entry ends
			// the scan.
			if ts.After(now) {
				break
			}

			item, err := txn.Get(q.msgKey(id))
			if err != nil {
				if err == badger.ErrKeyNotFound {
					// Orphaned index entry, clean it up
					if err := txn.Delete(key); err != nil {
						return err
					}
					continue
				}
				return err
			}

			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &qt)
			}); err != nil {
				return err
			}

			if qt.ReceiveCount >= q.maxReceive {
				// Redelivered too many times without completion; drop to
				// prevent a poison-task loop.
				q.logger.Warn().
					Str("task_id", qt.Body.ID).
					Int("receive_count", qt.ReceiveCount).
					Msg("Task exceeded max receive count, dropping")
				if err := txn.Delete(key); err != nil {
					return err
				}
				if err := txn.Delete(q.msgKey(id)); err != nil {
					return err
				}
				dropped = append(dropped, qt.Body)
				continue
			}

			found = true
			taskID = id
			oldIndexKey = key
			break
		}

		// Returning an error would roll back any poison-task deletes above,
		// so an empty scan commits and reports ErrNoTask afterwards.
		if !found {
			return nil
		}

		// Claim: bump receive count and push visibility out so no other
		// worker sees the task while it runs.
		qt.ReceiveCount++
		qt.VisibleAt = time.Now().Add(q.visibilityTimeout)

		newData, err := json.Marshal(qt)
		if err != nil {
			return err
		}
		if err := txn.Set(q.msgKey(taskID), newData); err != nil {
			return err
		}
		if err := txn.Delete(oldIndexKey); err != nil {
			return err
		}
		return txn.Set(q.indexKey(qt.VisibleAt, taskID), []byte{})
	})

	if err != nil {
		return nil, nil, err
	}

	q.notifyDropped(dropped)

	if !found {
		return nil, nil, ErrNoTask
	}

	doneFn := func() error {
		return q.db.Update(func(txn *badger.Txn) error {
			item, err := txn.Get(q.msgKey(taskID))
			if err != nil {
				if err == badger.ErrKeyNotFound {
					return nil // Already removed
				}
				return err
			}

			var current queuedTask
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &current)
			}); err != nil {
				return err
			}

			if err := txn.Delete(q.indexKey(current.VisibleAt, taskID)); err != nil {
				if err != badger.ErrKeyNotFound {
					return err
				}
			}
			return txn.Delete(q.msgKey(taskID))
		})
	}

	task := qt.Body
	return &task, doneFn, nil
}

func (q *TaskQueue) notifyDropped(tasks []models.Task) {
	if len(tasks) == 0 {
		return
	}
	q.dropMu.Lock()
	handler := q.dropHandler
	q.dropMu.Unlock()
	if handler == nil {
		return
	}
	for _, task := range tasks {
		handler(task)
	}
}

// Snapshot returns the bodies of all stored tasks, visible or claimed. A new
// run uses this to adopt work left behind by a previous one.
func (q *TaskQueue) Snapshot(ctx context.Context) ([]models.Task, error) {
	var out []models.Task
	err := q.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		prefix := []byte(fmt.Sprintf("queue:%s:msg:", q.queueName))
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var qt queuedTask
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &qt)
			}); err != nil {
				return err
			}
			out = append(out, qt.Body)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot queue: %w", err)
	}
	return out, nil
}

// Pending counts tasks currently stored, visible or not.
func (q *TaskQueue) Pending(ctx context.Context) (int, error) {
	count := 0
	err := q.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		prefix := []byte(fmt.Sprintf("queue:%s:msg:", q.queueName))
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count pending tasks: %w", err)
	}
	return count, nil
}

// Helpers

func (q *TaskQueue) msgKey(id string) []byte {
	return []byte(fmt.Sprintf("queue:%s:msg:%s", q.queueName, id))
}

func (q *TaskQueue) indexKey(visibleAt time.Time, id string) []byte {
	// Zero pad to 20 digits so string ordering matches numeric ordering
	return []byte(fmt.Sprintf("queue:%s:index:%020d:%s", q.queueName, visibleAt.UnixNano(), id))
}

func (q *TaskQueue) parseIndexKey(key []byte) (time.Time, string, error) {
	prefixStr := fmt.Sprintf("queue:%s:index:", q.queueName)
	if len(key) <= len(prefixStr) {
		return time.Time{}, "", fmt.Errorf("invalid key length")
	}

	suffix := string(key[len(prefixStr):])
	if len(suffix) < 21 { // 20 digits + 1 colon
		return time.Time{}, "", fmt.Errorf("invalid suffix length")
	}

	var ts int64
	if _, err := fmt.Sscanf(suffix[:20], "%d", &ts); err != nil {
		return time.Time{}, "", err
	}

	return time.Unix(0, ts), suffix[21:], nil
}
