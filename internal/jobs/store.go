package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	jobKeyPrefix     = "job:"
	eventsKeyPrefix  = "job-events:"
	maxUpdateRetries = 10
)

// ErrJobNotFound はジョブ情報が存在しない（期限切れを含む）場合に返されます。
var ErrJobNotFound = errors.New("job not found")

// Store はジョブ状態を Redis に保存し、更新のたびに購読者へ通知します。
type Store struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

// NewStore は Store を作成します。
func NewStore(rdb redis.UniversalClient, ttl time.Duration) *Store {
	return &Store{
		rdb: rdb,
		ttl: ttl,
	}
}

// Get はジョブ情報を取得します。存在しない場合は nil を返します。
func (s *Store) Get(ctx context.Context, jobID string) (*Record, error) {
	if jobID == "" {
		return nil, fmt.Errorf("jobID is required")
	}
	data, err := s.rdb.Get(ctx, jobKey(jobID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// Upsert はジョブ情報を保存します（存在しない場合は作成）。
func (s *Store) Upsert(ctx context.Context, record *Record) error {
	if record == nil {
		return fmt.Errorf("record is nil")
	}
	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now
	if record.ExpiresAt.IsZero() && s.ttl > 0 {
		record.ExpiresAt = record.CreatedAt.Add(s.ttl)
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, jobKey(record.JobID), payload, s.ttl).Err(); err != nil {
		return err
	}
	return s.publish(ctx, record.JobID, payload)
}

// MarkRunning は実行開始を保存します。
func (s *Store) MarkRunning(ctx context.Context, jobID string) error {
	return s.updatePartial(ctx, jobID, func(record *Record) {
		record.Status = StatusRunning
		record.Progress = ProgressInfo{Percent: 0, Stage: "load"}
	})
}

// UpdateProgress は進捗を更新します。
func (s *Store) UpdateProgress(ctx context.Context, jobID string, progress ProgressInfo) error {
	return s.updatePartial(ctx, jobID, func(record *Record) {
		record.Progress = progress
	})
}

// MarkDone はジョブ完了時の情報を保存します。
func (s *Store) MarkDone(ctx context.Context, jobID string, downloadURL string, meta any) error {
	return s.updatePartial(ctx, jobID, func(record *Record) {
		record.Status = StatusSucceeded
		record.Progress = ProgressInfo{
			Percent: 100,
			Stage:   "completed",
		}
		record.DownloadURL = downloadURL
		record.Meta = meta
		record.Error = nil
	})
}

// MarkFailed はジョブ失敗時の情報を保存します。
func (s *Store) MarkFailed(ctx context.Context, jobID string, errInfo *ErrorInfo) error {
	return s.updatePartial(ctx, jobID, func(record *Record) {
		record.Status = StatusFailed
		if errInfo != nil {
			record.Error = errInfo
		}
	})
}

// MarkCanceled はキャンセルされたことを保存します。
func (s *Store) MarkCanceled(ctx context.Context, jobID string) error {
	return s.updatePartial(ctx, jobID, func(record *Record) {
		record.Status = StatusCanceled
		record.Progress.Stage = "canceled"
		record.Error = &ErrorInfo{Code: "REQUEST_CANCELED", Message: "ジョブはキャンセルされました。"}
	})
}

// Subscribe はジョブの更新通知を購読します。受信したメッセージは DecodeEvent で Record に戻せます。
func (s *Store) Subscribe(ctx context.Context, jobID string) *redis.PubSub {
	return s.rdb.Subscribe(ctx, eventsKey(jobID))
}

// DecodeEvent は購読メッセージを Record に変換します。
func DecodeEvent(msg *redis.Message) (*Record, error) {
	var record Record
	if err := json.Unmarshal([]byte(msg.Payload), &record); err != nil {
		return nil, err
	}
	return &record, nil
}

func (s *Store) updatePartial(ctx context.Context, jobID string, mutate func(*Record)) error {
	key := jobKey(jobID)
	var payload []byte
	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
			}
			return err
		}
		var record Record
		if err := json.Unmarshal(data, &record); err != nil {
			return err
		}
		mutate(&record)
		record.UpdatedAt = time.Now().UTC()
		payload, err = json.Marshal(&record)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, s.ttl)
			return nil
		})
		return err
	}

	for i := 0; i < maxUpdateRetries; i++ {
		err := s.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return err
		}
		return s.publish(ctx, jobID, payload)
	}
	return fmt.Errorf("job %s: too many concurrent updates", jobID)
}

func (s *Store) publish(ctx context.Context, jobID string, payload []byte) error {
	return s.rdb.Publish(ctx, eventsKey(jobID), payload).Err()
}

func jobKey(id string) string {
	return jobKeyPrefix + id
}

func eventsKey(id string) string {
	return eventsKeyPrefix + id
}
