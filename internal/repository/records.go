package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const recordTTL = 90 * 24 * time.Hour

// GameRecord is what the bot keeps about a finished game.
type GameRecord struct {
	GameID     int64     `json:"game_id"`
	Speed      string    `json:"speed"`
	Opponent   string    `json:"opponent"`
	OpponentID int64     `json:"opponent_id"`
	Outcome    string    `json:"outcome"`
	FinishedAt time.Time `json:"finished_at"`
}

// GameRecordStore persists finished-game results and per-user decline
// counters. All methods are best-effort from the caller's point of
// view; a nil store is a valid no-op store.
type GameRecordStore struct {
	redis *redis.Client
	log   *zap.SugaredLogger
}

func NewGameRecordStore(client *redis.Client, log *zap.SugaredLogger) *GameRecordStore {
	return &GameRecordStore{redis: client, log: log}
}

func (s *GameRecordStore) SaveResult(ctx context.Context, rec GameRecord) error {
	if s == nil {
		return nil
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	key := fmt.Sprintf("gtp2ogs:game:%d", rec.GameID)
	if err := s.redis.Set(ctx, key, payload, recordTTL).Err(); err != nil {
		return fmt.Errorf("failed to save game record: %w", err)
	}
	return nil
}

func (s *GameRecordStore) GetResult(ctx context.Context, gameID int64) (*GameRecord, error) {
	if s == nil {
		return nil, nil
	}
	raw, err := s.redis.Get(ctx, fmt.Sprintf("gtp2ogs:game:%d", gameID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec GameRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// RecordDecline bumps the per-user counter for one rejection code.
func (s *GameRecordStore) RecordDecline(ctx context.Context, userID int64, code string) error {
	if s == nil {
		return nil
	}
	key := fmt.Sprintf("gtp2ogs:declines:%d", userID)
	if err := s.redis.HIncrBy(ctx, key, code, 1).Err(); err != nil {
		return fmt.Errorf("failed to record decline: %w", err)
	}
	return s.redis.Expire(ctx, key, recordTTL).Err()
}

func (s *GameRecordStore) DeclineCounts(ctx context.Context, userID int64) (map[string]string, error) {
	if s == nil {
		return nil, nil
	}
	return s.redis.HGetAll(ctx, fmt.Sprintf("gtp2ogs:declines:%d", userID)).Result()
}
