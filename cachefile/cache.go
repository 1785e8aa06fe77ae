package cachefile

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/sagernet/bbolt"
	bboltErrors "github.com/sagernet/bbolt/errors"
	"github.com/sagernet/sing-relay/adapter"
	"github.com/sagernet/sing-relay/option"
	"github.com/sagernet/sing/common"
)

var (
	bucketRelayList = []byte("relay_list")
	bucketSelected  = []byte("selected")

	bucketNameList = []string{
		string(bucketRelayList),
		string(bucketSelected),
	}

	keyRelayList = []byte("default")
)

var _ adapter.CacheFile = (*CacheFile)(nil)

type CacheFile struct {
	ctx           context.Context
	path          string
	cacheID       []byte
	storeSelected bool

	DB *bbolt.DB
}

func New(ctx context.Context, options option.CacheFileOptions) *CacheFile {
	var path string
	if options.Path != "" {
		path = options.Path
	} else {
		path = "cache.db"
	}
	var cacheIDBytes []byte
	if options.CacheID != "" {
		cacheIDBytes = append([]byte{0}, []byte(options.CacheID)...)
	}
	return &CacheFile{
		ctx:           ctx,
		path:          path,
		cacheID:       cacheIDBytes,
		storeSelected: options.StoreSelected,
	}
}

func (c *CacheFile) start() error {
	const fileMode = 0o666
	options := bbolt.Options{Timeout: time.Second}
	var (
		db  *bbolt.DB
		err error
	)
	for i := 0; i < 10; i++ {
		db, err = bbolt.Open(c.path, fileMode, &options)
		if err == nil {
			break
		}
		if errors.Is(err, bboltErrors.ErrTimeout) {
			return err
		}
		if errors.Is(err, bboltErrors.ErrInvalid) || errors.Is(err, bboltErrors.ErrChecksum) || errors.Is(err, bboltErrors.ErrVersionMismatch) {
			rmErr := os.Remove(c.path)
			if rmErr != nil {
				return err
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	if err != nil {
		return err
	}
	err = db.Batch(func(tx *bbolt.Tx) error {
		return tx.ForEach(func(name []byte, b *bbolt.Bucket) error {
			if name[0] == 0 {
				return b.ForEachBucket(func(k []byte) error {
					bucketName := string(k)
					if !(common.Contains(bucketNameList, bucketName)) {
						_ = b.DeleteBucket(name)
					}
					return nil
				})
			} else {
				bucketName := string(name)
				if !(common.Contains(bucketNameList, bucketName)) {
					_ = tx.DeleteBucket(name)
				}
			}
			return nil
		})
	})
	if err != nil {
		db.Close()
		return err
	}
	c.DB = db
	return nil
}

func (c *CacheFile) Name() string {
	return "cache file"
}

func (c *CacheFile) Start(stage adapter.StartStage) error {
	switch stage {
	case adapter.StartStateInitialize:
		return c.start()
	}
	return nil
}

func (c *CacheFile) Close() error {
	if c.DB == nil {
		return nil
	}
	return c.DB.Close()
}

func (c *CacheFile) StoreSelectedEnabled() bool {
	return c.storeSelected
}

func (c *CacheFile) bucket(t *bbolt.Tx, key []byte) *bbolt.Bucket {
	if c.cacheID == nil {
		return t.Bucket(key)
	}
	bucket := t.Bucket(c.cacheID)
	if bucket == nil {
		return nil
	}
	return bucket.Bucket(key)
}

func (c *CacheFile) createBucket(t *bbolt.Tx, key []byte) (*bbolt.Bucket, error) {
	if c.cacheID == nil {
		return t.CreateBucketIfNotExists(key)
	}
	bucket, err := t.CreateBucketIfNotExists(c.cacheID)
	if bucket == nil {
		return nil, err
	}
	return bucket.CreateBucketIfNotExists(key)
}

func (c *CacheFile) LoadRelayList() *adapter.SavedRelayList {
	var savedList adapter.SavedRelayList
	err := c.DB.View(func(t *bbolt.Tx) error {
		bucket := c.bucket(t, bucketRelayList)
		if bucket == nil {
			return os.ErrNotExist
		}
		listBinary := bucket.Get(keyRelayList)
		if len(listBinary) == 0 {
			return os.ErrInvalid
		}
		return savedList.UnmarshalBinary(listBinary)
	})
	if err != nil {
		return nil
	}
	return &savedList
}

func (c *CacheFile) StoreRelayList(list *adapter.SavedRelayList) error {
	return c.DB.Batch(func(t *bbolt.Tx) error {
		bucket, err := c.createBucket(t, bucketRelayList)
		if err != nil {
			return err
		}
		listBinary, err := list.MarshalBinary()
		if err != nil {
			return err
		}
		return bucket.Put(keyRelayList, listBinary)
	})
}

func (c *CacheFile) LoadSelected(tag string) string {
	var selected string
	c.DB.View(func(t *bbolt.Tx) error {
		bucket := c.bucket(t, bucketSelected)
		if bucket == nil {
			return nil
		}
		selectedBytes := bucket.Get([]byte(tag))
		if len(selectedBytes) > 0 {
			selected = string(selectedBytes)
		}
		return nil
	})
	return selected
}

func (c *CacheFile) StoreSelected(tag string, hostname string) error {
	return c.DB.Batch(func(t *bbolt.Tx) error {
		bucket, err := c.createBucket(t, bucketSelected)
		if err != nil {
			return err
		}
		return bucket.Put([]byte(tag), []byte(hostname))
	})
}
