package services

import (
	"encoding/json"
	"strings"

	"gorm.io/gorm"
)

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// containsPattern is a case-folded LIKE pattern matching term anywhere.
func containsPattern(term string) string {
	return "%" + likeEscaper.Replace(strings.ToLower(term)) + "%"
}

// whereSearch matches term case-insensitively against any of columns.
func whereSearch(query *gorm.DB, term string, columns ...string) *gorm.DB {
	term = strings.TrimSpace(term)
	if term == "" || len(columns) == 0 {
		return query
	}
	pattern := containsPattern(term)
	conds := make([]string, len(columns))
	args := make([]interface{}, len(columns))
	for i, column := range columns {
		conds[i] = "LOWER(COALESCE(" + column + ", '')) LIKE ? ESCAPE '\\'"
		args[i] = pattern
	}
	return query.Where("("+strings.Join(conds, " OR ")+")", args...)
}

// whereTagsAnyOf keeps rows whose JSON tag column holds at least one of tags.
func whereTagsAnyOf(query *gorm.DB, column string, tags []string) *gorm.DB {
	tags = mergeTags(nil, tags)
	if len(tags) == 0 {
		return query
	}
	conds := make([]string, 0, len(tags))
	args := make([]interface{}, 0, len(tags))
	for _, tag := range tags {
		encoded, _ := json.Marshal(tag)
		conds = append(conds, column+" LIKE ? ESCAPE '\\'")
		args = append(args, "%"+likeEscaper.Replace(string(encoded))+"%")
	}
	return query.Where("("+strings.Join(conds, " OR ")+")", args...)
}
