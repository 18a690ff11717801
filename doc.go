// Package topicache is an embedded, persistent, time-expiring key-value
// cache layered over a relational database, organized into independent
// namespaces called topics. Each topic is a durable table of key/value rows
// with an absolute expiry.
//
// Reads refresh an entry's expiry lazily: the refreshed value is queued in
// memory and persisted by a background maintenance loop, which also sweeps
// expired rows. GetForUpdate provides a per-key single-writer protocol so
// concurrent cache fills for the same key collapse into one recomputation.
//
// Example:
//
//	cache, err := topicache.Open(topicache.Config{DSN: "file:app.db"})
//	if err != nil {
//		panic(err)
//	}
//	defer cache.Close()
//
//	users, err := cache.Topic("users")
//	if err != nil {
//		panic(err)
//	}
//	_ = users.Set("42", []byte("Ada"), time.Hour)
//	value, ok, _ := users.Get("42")
//	fmt.Println(ok, string(value.Data)) // true Ada
package topicache
