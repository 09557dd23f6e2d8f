// Package stores holds the redis-backed state that outlives a single request
// but not a login attempt: the pending two-factor challenge per account.
package stores

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const challengeRecordVersion1 = 1

var (
	ErrChallengeNotFound = errors.New("two-factor challenge not found")
	ErrChallengeExpired  = errors.New("two-factor challenge expired")
	ErrChallengeExceeded = errors.New("two-factor challenge attempts exceeded")
	ErrChallengeBackend  = errors.New("two-factor challenge backend unavailable")
)

// Challenge is the explicit login-attempt state: a login that passed the
// password check and is suspended on a second factor. The record expires with
// its redis TTL, forcing the client back to the start of the login flow.
type Challenge struct {
	Method    string
	ExpiresAt int64
	Attempts  uint16
}

// ChallengeStore keys pending challenges by account id, so one account has at
// most one resumable login attempt at a time.
type ChallengeStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewChallengeStore(redisClient redis.UniversalClient, prefix string) *ChallengeStore {
	if prefix == "" {
		prefix = "a2f"
	}
	return &ChallengeStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *ChallengeStore) key(accountID string) string {
	return s.prefix + ":" + accountID
}

// Save overwrites any pending challenge for the account.
func (s *ChallengeStore) Save(ctx context.Context, accountID string, record *Challenge, ttl time.Duration) error {
	encoded, err := encodeChallenge(record)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(accountID), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrChallengeBackend, err)
	}
	return nil
}

// Get returns the pending challenge, deleting it when now is past its expiry.
func (s *ChallengeStore) Get(ctx context.Context, accountID string, now time.Time) (*Challenge, error) {
	data, err := s.redis.Get(ctx, s.key(accountID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrChallengeNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrChallengeBackend, err)
	}

	record, err := decodeChallenge(data)
	if err != nil {
		return nil, err
	}
	if now.Unix() > record.ExpiresAt {
		_, _ = s.redis.Del(ctx, s.key(accountID)).Result()
		return nil, ErrChallengeExpired
	}
	return record, nil
}

// Delete removes the challenge, reporting whether it was still present. A
// false return on the success path means another request settled the same
// challenge first.
func (s *ChallengeStore) Delete(ctx context.Context, accountID string) (bool, error) {
	n, err := s.redis.Del(ctx, s.key(accountID)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrChallengeBackend, err)
	}
	return n > 0, nil
}

// RecordFailure increments the attempt counter under a WATCH transaction and
// reports whether maxAttempts has been reached; the exhausted challenge is
// deleted in the same transaction.
func (s *ChallengeStore) RecordFailure(ctx context.Context, accountID string, maxAttempts int, now time.Time) (bool, error) {
	const maxRetries = 4
	key := s.key(accountID)

	for i := 0; i < maxRetries; i++ {
		var exceeded bool
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			record, err := decodeChallenge(data)
			if err != nil {
				return err
			}

			remaining := time.Unix(record.ExpiresAt, 0).Sub(now)
			if remaining <= 0 {
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				if err != nil {
					return err
				}
				return ErrChallengeExpired
			}

			record.Attempts++
			if int(record.Attempts) >= maxAttempts {
				exceeded = true
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				return err
			}

			updated, err := encodeChallenge(record)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, remaining)
				return nil
			})
			return err
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return false, ErrChallengeNotFound
			}
			if errors.Is(err, ErrChallengeExpired) {
				return false, err
			}
			return false, fmt.Errorf("%w: %v", ErrChallengeBackend, err)
		}
		return exceeded, nil
	}

	return false, ErrChallengeNotFound
}

func encodeChallenge(record *Challenge) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(challengeRecordVersion1)

	if err := binary.Write(&buf, binary.BigEndian, record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}

	if len(record.Method) > 255 {
		return nil, errors.New("challenge method too long")
	}
	buf.WriteByte(byte(len(record.Method)))
	buf.WriteString(record.Method)

	return buf.Bytes(), nil
}

func decodeChallenge(data []byte) (*Challenge, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != challengeRecordVersion1 {
		return nil, errors.New("invalid challenge record version")
	}

	record := &Challenge{}
	if err := binary.Read(reader, binary.BigEndian, &record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}

	methodLen, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	method := make([]byte, methodLen)
	if _, err := io.ReadFull(reader, method); err != nil {
		return nil, err
	}
	record.Method = string(method)

	return record, nil
}
