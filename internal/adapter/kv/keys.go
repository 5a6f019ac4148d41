package kv

import (
	"github.com/rzpsarthak13/strata/internal/query"
)

// keyspace lays out a database in the flat key space of a store:
//
//	{ns}m:schema:{table}                     schema JSON
//	{ns}t:{table}:r:{pk}                     row
//	{ns}t:{table}:i:{column}:{value}{pk}     index entry, value is the pk
//	{ns}t:{table}:u:{column}:{value}         unique entry, value is the pk
//
// Values and primary keys use the order-preserving key encoding, so a
// prefix scan of an index yields rows ordered by value, then primary key.
// Identifiers never contain ':', which keeps the prefixes disjoint.
type keyspace struct {
	ns string
}

func newKeyspace(namespace, database string) keyspace {
	return keyspace{ns: namespace + "/" + database + "/"}
}

func (k keyspace) schemaPrefix() string { return k.ns + "m:schema:" }

func (k keyspace) schemaKey(table string) string { return k.schemaPrefix() + table }

func (k keyspace) tablePrefix(table string) string { return k.ns + "t:" + table + ":" }

func (k keyspace) rowPrefix(table string) string { return k.tablePrefix(table) + "r:" }

func (k keyspace) rowKey(table, ref string) string { return k.rowPrefix(table) + ref }

func (k keyspace) indexPrefix(table, column string) string {
	return k.tablePrefix(table) + "i:" + column + ":"
}

func (k keyspace) indexKey(table, column string, value interface{}, ref string) (string, error) {
	enc, err := query.EncodeKey(value)
	if err != nil {
		return "", err
	}
	return k.indexPrefix(table, column) + enc + ref, nil
}

func (k keyspace) uniqueKey(table, column string, value interface{}) (string, error) {
	enc, err := query.EncodeKey(value)
	if err != nil {
		return "", err
	}
	return k.tablePrefix(table) + "u:" + column + ":" + enc, nil
}
