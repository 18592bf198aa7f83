// Package sqlgen renders the administrative SQL batches the warehouse needs:
// user creation and alteration, privilege reflection from relacl entries and
// deep-copy table rebuilds.
package sqlgen

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"regexp"
	"sort"
	"strings"

	"github.com/samber/lo"
)

const (
	upperChars = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	lowerChars = "abcdefghijklmnopqrstuvwxyz"
	digitChars = "0123456789"
	// Printable ASCII punctuation minus the characters Redshift CREATE USER
	// rejects in passwords: ' " \ / @ and space.
	punctuationChars = "!#$%&()*+,-.:;<=>?[]^_`{|}~"

	passwordChars = upperChars + lowerChars + digitChars + punctuationChars
)

// RandomPassword returns a strong password valid for Redshift CREATE USER:
// 8 to 64 characters, at least one uppercase letter, one lowercase letter and
// one digit, drawn from printable ASCII excluding ' " \ / @ and space.
func RandomPassword(length int) (string, error) {
	if length < 8 || length > 64 {
		return "", fmt.Errorf("invalid password length %d: must be between 8 and 64", length)
	}

	chars := make([]byte, 0, length)
	for _, set := range []string{upperChars, lowerChars, digitChars} {
		c, err := randomChoice(set)
		if err != nil {
			return "", err
		}
		chars = append(chars, c)
	}
	for len(chars) < length {
		c, err := randomChoice(passwordChars)
		if err != nil {
			return "", err
		}
		chars = append(chars, c)
	}
	if err := shuffle(chars); err != nil {
		return "", err
	}
	return string(chars), nil
}

func randomChoice(set string) (byte, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(set))))
	if err != nil {
		return 0, fmt.Errorf("generating password: %w", err)
	}
	return set[n.Int64()], nil
}

func shuffle(chars []byte) error {
	for i := len(chars) - 1; i > 0; i-- {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return fmt.Errorf("generating password: %w", err)
		}
		j := n.Int64()
		chars[i], chars[j] = chars[j], chars[i]
	}
	return nil
}

// UserOptions parameterize a CREATE USER batch.
type UserOptions struct {
	Password   string
	ValidUntil string
	CreateDB   bool
	CreateUser bool
	Groups     []string
	// Parameters become an appended ALTER USER ... SET batch, one SET per
	// configuration parameter, rendered in sorted key order.
	Parameters map[string]string
}

// CreateUser renders a CREATE USER statement, plus a trailing ALTER USER
// batch when configuration parameters are given.
func CreateUser(name string, opts UserOptions) string {
	var b strings.Builder
	b.WriteString("CREATE USER " + name)
	if opts.CreateDB {
		b.WriteString(" CREATEDB")
	}
	if opts.CreateUser {
		b.WriteString(" CREATEUSER")
	}
	if len(opts.Groups) > 0 {
		b.WriteString(" IN GROUP " + strings.Join(opts.Groups, ", "))
	}
	b.WriteString(" PASSWORD " + quoteLiteral(opts.Password))
	if opts.ValidUntil != "" {
		b.WriteString(" VALID UNTIL " + quoteLiteral(opts.ValidUntil))
	}
	if len(opts.Parameters) > 0 {
		b.WriteString(";\n" + AlterUser(name, AlterOptions{Set: opts.Parameters}))
	}
	return b.String()
}

// AlterOptions parameterize an ALTER USER statement. Nil booleans leave the
// corresponding attribute untouched.
type AlterOptions struct {
	Password   string
	ValidUntil string
	CreateDB   *bool
	CreateUser *bool
	RenameTo   string
	// Set assigns configuration parameters; Reset restores their defaults.
	Set   map[string]string
	Reset []string
}

func AlterUser(name string, opts AlterOptions) string {
	var options []string
	if opts.Password != "" {
		options = append(options, "PASSWORD "+quoteLiteral(opts.Password))
	}
	if opts.ValidUntil != "" {
		options = append(options, "VALID UNTIL "+quoteLiteral(opts.ValidUntil))
	}
	if opts.CreateDB != nil {
		options = append(options, boolOption(*opts.CreateDB, "CREATEDB"))
	}
	if opts.CreateUser != nil {
		options = append(options, boolOption(*opts.CreateUser, "CREATEUSER"))
	}
	if opts.RenameTo != "" {
		options = append(options, "RENAME TO "+opts.RenameTo)
	}
	keys := lo.Keys(opts.Set)
	sort.Strings(keys)
	for _, key := range keys {
		options = append(options, fmt.Sprintf("SET %s = %s", key, opts.Set[key]))
	}
	for _, key := range opts.Reset {
		options = append(options, "RESET "+key)
	}
	return fmt.Sprintf("ALTER USER %s %s", name, strings.Join(options, " "))
}

func boolOption(enabled bool, option string) string {
	if enabled {
		return option
	}
	return "NO" + option
}

// relaclCharsToWords maps pg_class.relacl privilege characters to their
// GRANT keywords, per psql's \z output format.
var relaclCharsToWords = map[byte]string{
	'r': "SELECT",
	'w': "UPDATE",
	'a': "INSERT",
	'd': "DELETE",
	'R': "RULE",
	'x': "REFERENCES",
	't': "TRIGGER",
	'X': "EXECUTE",
	'U': "USAGE",
	'C': "CREATE",
	'T': "TEMPORARY",
}

var withGrantOptionRe = regexp.MustCompile(`[arwdRxtXUCT]\*`)

// GrantsFromPrivileges reproduces GRANT statements for a relation from its
// newline-separated relacl entries, as queried via
// pg_catalog.array_to_string(relacl, '\n'). An empty grantee means PUBLIC,
// a "group " prefix becomes a GROUP grantee, and the full table privilege
// set arwdRxt collapses to ALL.
func GrantsFromPrivileges(privileges, relation string) []string {
	var grants []string
	if privileges == "" {
		return grants
	}
	for _, entry := range strings.Split(privileges, "\n") {
		grants = append(grants, grantsFromEntry(entry, relation)...)
	}
	return grants
}

func grantsFromEntry(entry, relation string) []string {
	grantee, rest, _ := strings.Cut(entry, "=")
	grantee = strings.Replace(grantee, "group", "GROUP", 1)
	if grantee == "" {
		grantee = "PUBLIC"
	}
	chars, _, _ := strings.Cut(rest, "/")

	words, grantOptionWords := wordsFromRelaclChars(chars)
	var grants []string
	if len(words) > 0 {
		grants = append(grants, fmt.Sprintf("GRANT %s ON %s TO %s",
			strings.Join(words, ", "), relation, grantee))
	}
	if len(grantOptionWords) > 0 {
		grants = append(grants, fmt.Sprintf("GRANT %s ON %s TO %s WITH GRANT OPTION",
			strings.Join(grantOptionWords, ", "), relation, grantee))
	}
	return grants
}

func wordsFromRelaclChars(chars string) (words, grantOptionWords []string) {
	if chars == "arwdRxt" {
		return []string{"ALL"}, nil
	}
	for _, match := range withGrantOptionRe.FindAllString(chars, -1) {
		grantOptionWords = append(grantOptionWords, relaclCharsToWords[match[0]])
		chars = strings.ReplaceAll(chars, match, "")
	}
	for i := 0; i < len(chars); i++ {
		if word, ok := relaclCharsToWords[chars[i]]; ok {
			words = append(words, word)
		}
	}
	return words, grantOptionWords
}

// DeepCopyOptions parameterize a deep-copy rebuild batch.
type DeepCopyOptions struct {
	// Distinct deduplicates rows while copying them back.
	Distinct bool
	// Cascade drops dependent objects along with the outgoing table.
	Cascade bool
	// Grants are reproduced privilege statements appended after the create
	// statement, typically from GrantsFromPrivileges.
	Grants []string
}

// DeepCopy renders the statement batch that rebuilds a table in place: lock,
// rename the existing table aside, re-create it from its definition, copy the
// rows back and drop the renamed original.
func DeepCopy(table, createStatement string, opts DeepCopyOptions) string {
	outgoing := table + "$outgoing"

	definition := createStatement
	if len(opts.Grants) > 0 {
		definition += ";\n" + strings.Join(opts.Grants, ";\n")
	}

	insert := "INSERT INTO " + table + " SELECT "
	if opts.Distinct {
		insert += "DISTINCT "
	}
	insert += "* FROM " + outgoing

	drop := "DROP TABLE " + outgoing
	if opts.Cascade {
		drop += " CASCADE"
	}

	return strings.Join([]string{
		"LOCK TABLE " + table,
		"ALTER TABLE " + table + " RENAME TO " + outgoing,
		definition,
		insert,
		drop,
	}, ";\n")
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
