package auth

import (
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"
)

var tokensBucket = []byte("tokens")

// BoltStore keeps tokens in a bbolt file, one JSON value per team id.
type BoltStore struct {
	db *bbolt.DB
}

// OpenBolt opens (or creates) the token database at path.
func OpenBolt(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open token db %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(tokensBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init token db %s: %w", path, err)
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Put(t *Token) error {
	if t.TeamID == "" {
		return fmt.Errorf("put token: empty team id")
	}
	buf, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(tokensBucket).Put([]byte(t.TeamID), buf)
	})
}

func (s *BoltStore) Get(teamID string) (*Token, error) {
	var t *Token
	err := s.db.View(func(tx *bbolt.Tx) error {
		buf := tx.Bucket(tokensBucket).Get([]byte(teamID))
		if buf == nil {
			return ErrNotFound
		}
		t = &Token{}
		return json.Unmarshal(buf, t)
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (s *BoltStore) List() ([]*Token, error) {
	var out []*Token
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(tokensBucket).ForEach(func(k, v []byte) error {
			t := &Token{}
			if err := json.Unmarshal(v, t); err != nil {
				return fmt.Errorf("token %s: %w", k, err)
			}
			out = append(out, t)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *BoltStore) Delete(teamID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(tokensBucket).Delete([]byte(teamID))
	})
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
