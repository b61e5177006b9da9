package server

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
)

// ErrNotFound is returned for unknown sessions and objects.
var ErrNotFound = errors.New("not found")

// Session is an upload in progress. Part numbering and the confirmed
// offset are owned by the server.
type Session struct {
	ID   string `json:"id"`
	Hash string `json:"hash"`
	Name string `json:"name"`
	Size int64  `json:"size"`

	// Key is the bucket object key.
	Key string `json:"key"`
	// MultipartID is empty for empty files, which skip multipart.
	MultipartID string `json:"multipart_id,omitempty"`

	PartSize int64     `json:"part_size"`
	NextPart int64     `json:"next_part"`
	Uploaded int64     `json:"uploaded"`
	Parts    []Part    `json:"parts,omitempty"`
	Created  time.Time `json:"created"`
}

// Part is a confirmed part of a multipart upload.
type Part struct {
	Number int64  `json:"number"`
	ETag   string `json:"etag"`
}

// PartEnd is the offset just past part n.
func (s *Session) PartEnd(n int64) int64 {
	return min(n*s.PartSize, s.Size)
}

// Object is stored content, deduplicated by hash and size.
type Object struct {
	Hash        string    `json:"hash"`
	Size        int64     `json:"size"`
	Name        string    `json:"name"`
	Key         string    `json:"key"`
	FolderID    string    `json:"folder_id"`
	PublicCode  string    `json:"public_code"`
	PrivateCode string    `json:"private_code"`
	Created     time.Time `json:"created"`
}

func keySession(id string) []byte {
	return []byte("session/" + id)
}

func keyInFlight(hash, name string, size int64) []byte {
	return []byte("inflight/" + hash + "/" + strconv.FormatInt(size, 10) + "/" + name)
}

func keyObject(hash string, size int64) []byte {
	return []byte("object/" + hash + "/" + strconv.FormatInt(size, 10))
}

var (
	keyUsage       = []byte("usage")
	keyAccessToken = []byte("token/access")
)

// Store persists sessions, objects and account state in badger.
type Store struct {
	db *badgerdb.DB
}

// OpenStore opens the database in dir, or an in-memory one when dir is empty.
func OpenStore(dir string) (*Store, error) {
	opts := badgerdb.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func getJSON(txn *badgerdb.Txn, key []byte, v any) error {
	item, err := txn.Get(key)
	if err == badgerdb.ErrKeyNotFound {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func setJSON(txn *badgerdb.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(key, data)
}

// CreateSession stores a new session and indexes it for resumption.
func (s *Store) CreateSession(sess *Session) error {
	return s.db.Update(func(txn *badgerdb.Txn) error {
		if err := setJSON(txn, keySession(sess.ID), sess); err != nil {
			return err
		}
		return txn.Set(keyInFlight(sess.Hash, sess.Name, sess.Size), []byte(sess.ID))
	})
}

func (s *Store) SaveSession(sess *Session) error {
	return s.db.Update(func(txn *badgerdb.Txn) error {
		return setJSON(txn, keySession(sess.ID), sess)
	})
}

func (s *Store) Session(id string) (*Session, error) {
	var sess Session
	err := s.db.View(func(txn *badgerdb.Txn) error {
		return getJSON(txn, keySession(id), &sess)
	})
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// InFlight finds the unfinished session for the same content and name.
func (s *Store) InFlight(hash, name string, size int64) (*Session, error) {
	var sess Session
	err := s.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(keyInFlight(hash, name, size))
		if err == badgerdb.ErrKeyNotFound {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		id, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		return getJSON(txn, keySession(string(id)), &sess)
	})
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// Finish replaces a session by the object it produced and charges its size
// to the account usage.
func (s *Store) Finish(sess *Session, obj *Object) error {
	for {
		err := s.db.Update(func(txn *badgerdb.Txn) error {
			if err := txn.Delete(keySession(sess.ID)); err != nil {
				return err
			}
			if err := txn.Delete(keyInFlight(sess.Hash, sess.Name, sess.Size)); err != nil {
				return err
			}
			if err := setJSON(txn, keyObject(obj.Hash, obj.Size), obj); err != nil {
				return err
			}
			usage, err := readUsage(txn)
			if err != nil {
				return err
			}
			return txn.Set(keyUsage, binary.BigEndian.AppendUint64(nil, uint64(usage+obj.Size)))
		})
		if err == badgerdb.ErrConflict {
			continue
		}
		return err
	}
}

func (s *Store) Object(hash string, size int64) (*Object, error) {
	var obj Object
	err := s.db.View(func(txn *badgerdb.Txn) error {
		return getJSON(txn, keyObject(hash, size), &obj)
	})
	if err != nil {
		return nil, err
	}
	return &obj, nil
}

// Usage is the number of bytes stored for the account.
func (s *Store) Usage() (int64, error) {
	var usage int64
	err := s.db.View(func(txn *badgerdb.Txn) error {
		var err error
		usage, err = readUsage(txn)
		return err
	})
	return usage, err
}

func readUsage(txn *badgerdb.Txn) (int64, error) {
	item, err := txn.Get(keyUsage)
	if err == badgerdb.ErrKeyNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var usage int64
	err = item.Value(func(val []byte) error {
		if len(val) != 8 {
			return fmt.Errorf("corrupt usage value")
		}
		usage = int64(binary.BigEndian.Uint64(val))
		return nil
	})
	return usage, err
}

// AccessToken returns the last issued access token, or "" if none was.
func (s *Store) AccessToken() (string, error) {
	var tok string
	err := s.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(keyAccessToken)
		if err == badgerdb.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		v, err := item.ValueCopy(nil)
		tok = string(v)
		return err
	})
	return tok, err
}

func (s *Store) SetAccessToken(tok string) error {
	return s.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set(keyAccessToken, []byte(tok))
	})
}
