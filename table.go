package topicache

import (
	"encoding/base32"
	"errors"
	"fmt"
	"strings"
)

// ErrTopicNameTooLong is returned by Cache.Topic when the encoded table
// name would exceed the dialect's identifier length limit.
var ErrTopicNameTooLong = errors.New("topicache: topic name too long for dialect identifier limit")

// Topic names are arbitrary strings; table identifiers are not. Unpadded
// base32 keeps the mapping injective and the output identifier-safe, and
// lowercasing survives the identifier case folding of every supported
// dialect (base32 output contains no lowercase letters, so folding cannot
// introduce a collision).
var tableNameEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

const (
	topicTablePrefix  = "topic_"
	expiryIndexSuffix = "_by_expiry"
)

func topicTableName(name string) string {
	return topicTablePrefix + strings.ToLower(tableNameEncoding.EncodeToString([]byte(name)))
}

// validateTopicTableName rejects table names whose derived identifiers,
// index name included, would exceed the dialect's limit. Postgres silently
// truncates over-long identifiers, which would alias two distinct topics
// onto one table, so this must fail up front.
func validateTopicTableName(d Dialect, name, table string) error {
	max := d.maxIdentifierLen()
	if max > 0 && len(table)+len(expiryIndexSuffix) > max {
		return fmt.Errorf("%w: topic %q", ErrTopicNameTooLong, name)
	}
	return nil
}

// topicNameFromTable reverses topicTableName. Used to report topic names
// rather than raw identifiers in maintenance logs.
func topicNameFromTable(table string) (string, bool) {
	enc, ok := strings.CutPrefix(table, topicTablePrefix)
	if !ok {
		return "", false
	}
	raw, err := tableNameEncoding.DecodeString(strings.ToUpper(enc))
	if err != nil {
		return "", false
	}
	return string(raw), true
}
