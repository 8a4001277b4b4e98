package repository

import (
	"strings"

	"github.com/go-redis/redis"
)

const keyRoot = "bm"

// Namespace scopes the keys of every repository to one test run, so several runs can share a Redis instance.
type Namespace struct {
	Test string
	Run  string
}

// key wraps the test and run in a hash tag, so on Redis Cluster every key of a run maps to the same
// slot. The Lua scripts touch event hashes they derive from their arguments and rely on this.
func (n Namespace) key(parts ...string) string {
	return keyRoot + ":{" + n.Test + ":" + n.Run + "}:" + strings.Join(parts, ":")
}

func (n Namespace) String() string {
	return n.Test + "." + n.Run
}

// deleteMatching removes every key starting with prefix. On Redis Cluster every master is scanned.
func deleteMatching(db redis.UniversalClient, operation string, prefix string) error {
	if cluster, ok := db.(*redis.ClusterClient); ok {
		return cluster.ForEachMaster(func(node *redis.Client) error {
			return deleteMatchingOn(node, operation, prefix)
		})
	}
	return deleteMatchingOn(db, operation, prefix)
}

func deleteMatchingOn(db redis.Cmdable, operation string, prefix string) error {
	var cursor uint64
	for {
		keys, next, err := db.Scan(cursor, prefix+"*", 500).Result()
		if err != nil {
			return storeError(operation, err)
		}
		if len(keys) > 0 {
			if err := db.Del(keys...).Err(); err != nil {
				return storeError(operation, err)
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}
