package server

import (
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
)

const dateOnlyLayout = "2006-01-02"

// queryReader parses optional query parameters and keeps the first failure.
// Absent or blank parameters read as nil. Each failure is reported as
// invalid_<name> on the field that caused it.
type queryReader struct {
	c   *gin.Context
	err error
}

func readQuery(c *gin.Context) *queryReader {
	return &queryReader{c: c}
}

func (q *queryReader) raw(name string) (string, bool) {
	if q.err != nil {
		return "", false
	}
	value := strings.TrimSpace(q.c.Query(name))
	return value, value != ""
}

func (q *queryReader) fail(name string) {
	q.err = newValidationError(name, "invalid_"+name, "invalid "+name)
}

func (q *queryReader) text(name string) string {
	value, _ := q.raw(name)
	return value
}

func (q *queryReader) int(name string) *int {
	value, ok := q.raw(name)
	if !ok {
		return nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		q.fail(name)
		return nil
	}
	return &parsed
}

// limit reads a non-negative page limit and caps it at ceiling.
func (q *queryReader) limit(name string, ceiling int) int {
	n := q.int(name)
	if n == nil {
		return 0
	}
	if *n < 0 {
		q.fail(name)
		return 0
	}
	return min(*n, ceiling)
}

func (q *queryReader) snowflakeID(name string) *snowflake.ID {
	value, ok := q.raw(name)
	if !ok {
		return nil
	}
	id, err := snowflake.ParseString(value)
	if err != nil || id <= 0 {
		q.fail(name)
		return nil
	}
	return &id
}

// instant accepts RFC3339 or a bare date. A bare date expands to the start
// of that UTC day, or its last nanosecond when closing a range.
func (q *queryReader) instant(name string, closesRange bool) *time.Time {
	value, ok := q.raw(name)
	if !ok {
		return nil
	}
	if parsed, err := time.Parse(time.RFC3339, value); err == nil {
		parsed = parsed.UTC()
		return &parsed
	}
	day, err := time.Parse(dateOnlyLayout, value)
	if err != nil {
		q.fail(name)
		return nil
	}
	if closesRange {
		day = day.Add(24*time.Hour - time.Nanosecond)
	}
	return &day
}

func (q *queryReader) Err() error {
	return q.err
}
