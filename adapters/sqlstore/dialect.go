package sqlstore

import (
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/luno/jettison/errors"
)

// Dialect captures the differences between the databases a Ledger can be kept in. Queries are written with ?
// placeholders and rebound for dialects with numbered placeholders.
type Dialect struct {
	Name string

	// Numbered dialects use $1, $2, ... placeholders.
	Numbered bool

	// LockTip appends "for update" when reading the journal tip. Dialects that lock the whole database on
	// write do not need it.
	LockTip bool

	// EnsureTip inserts the tip row of a table unless it exists. It takes the ledger and table name.
	EnsureTip string

	// Schema holds the statements creating the tables.
	Schema []string

	// IsDuplicate reports whether err is a unique key violation.
	IsDuplicate func(err error) bool
}

var MySQL = Dialect{
	Name:      "mysql",
	LockTip:   true,
	EnsureTip: "insert ignore into ledger_tips (ledger_name, table_name, sequence, chain_hash) values (?, ?, 0, '')",
	Schema: []string{
		`create table if not exists ledger_tips (
			ledger_name     varchar(255) not null,
			table_name      varchar(255) not null,
			sequence        bigint not null,
			chain_hash      varchar(64) not null,

			primary key (ledger_name, table_name)
		)`,
		`create table if not exists ledger_journal (
			ledger_name     varchar(255) not null,
			table_name      varchar(255) not null,
			sequence        bigint not null,
			doc_key         varchar(255) not null,
			version         bigint not null,
			doc_value       longblob not null,
			revision_hash   varchar(64) not null,
			chain_hash      varchar(64) not null,
			created_at      bigint not null,

			primary key (ledger_name, table_name, sequence),
			unique index by_doc_version (ledger_name, table_name, doc_key, version)
		)`,
	},
	IsDuplicate: func(err error) bool {
		var mysqlErr *mysql.MySQLError
		return errors.As(err, &mysqlErr) && mysqlErr.Number == 1062
	},
}

var Postgres = Dialect{
	Name:      "postgres",
	Numbered:  true,
	LockTip:   true,
	EnsureTip: "insert into ledger_tips (ledger_name, table_name, sequence, chain_hash) values (?, ?, 0, '') on conflict do nothing",
	Schema: []string{
		`create table if not exists ledger_tips (
			ledger_name     text not null,
			table_name      text not null,
			sequence        bigint not null,
			chain_hash      text not null,

			primary key (ledger_name, table_name)
		)`,
		`create table if not exists ledger_journal (
			ledger_name     text not null,
			table_name      text not null,
			sequence        bigint not null,
			doc_key         text not null,
			version         bigint not null,
			doc_value       bytea not null,
			revision_hash   text not null,
			chain_hash      text not null,
			created_at      bigint not null,

			primary key (ledger_name, table_name, sequence),
			unique (ledger_name, table_name, doc_key, version)
		)`,
	},
	IsDuplicate: func(err error) bool {
		var pqErr *pq.Error
		return errors.As(err, &pqErr) && pqErr.Code == "23505"
	},
}

// bind rewrites the ? placeholders of the query for the dialect.
func (d Dialect) bind(query string) string {
	if !d.Numbered {
		return query
	}

	var (
		sb strings.Builder
		n  int
	)
	for _, r := range query {
		if r != '?' {
			sb.WriteRune(r)
			continue
		}

		n++
		sb.WriteString("$")
		sb.WriteString(strconv.Itoa(n))
	}

	return sb.String()
}

func (d Dialect) isDuplicate(err error) bool {
	return d.IsDuplicate != nil && d.IsDuplicate(err)
}
