package jobs

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// Subscription はジョブ1件の更新通知を Record として受け取ります。
type Subscription struct {
	pubsub  *redis.PubSub
	records chan *Record
	err     error
}

func newSubscription(ctx context.Context, store *Store, jobID string) *Subscription {
	pubsub := store.Subscribe(ctx, jobID)
	sub := &Subscription{
		pubsub:  pubsub,
		records: make(chan *Record),
	}
	// 購読の確立を待ってから返す。直後の Get との間で通知を取りこぼさないため。
	if _, err := pubsub.Receive(ctx); err != nil {
		sub.err = err
		close(sub.records)
		_ = pubsub.Close()
		return sub
	}

	go func() {
		defer close(sub.records)
		for msg := range pubsub.Channel() {
			record, err := DecodeEvent(msg)
			if err != nil {
				continue
			}
			select {
			case sub.records <- record:
			case <-ctx.Done():
				return
			}
		}
	}()
	return sub
}

// Err は購読開始に失敗した場合のエラーを返します。
func (s *Subscription) Err() error {
	return s.err
}

// Records は更新通知のチャネルを返します。Close するか ctx が終わると閉じられます。
func (s *Subscription) Records() <-chan *Record {
	return s.records
}

// Close は購読を終了します。
func (s *Subscription) Close() error {
	if s.err != nil {
		return nil
	}
	return s.pubsub.Close()
}
