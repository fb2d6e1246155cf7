package pagination

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/warden/pkg/httputil"
)

// Direction of travel relative to the cursor
type Direction string

const (
	Forward  Direction = "forward"
	Backward Direction = "backward"
)

const (
	DefaultLimit = 10
	MaxLimit     = 100
)

// ErrInvalidCursor is returned for cursors that do not decode or whose
// values do not fit the ordered column
var ErrInvalidCursor = httputil.BadRequest("Invalid cursor format")

// Cursor identifies a position in a keyset ordering. ID breaks ties between
// rows sharing the same order value.
type Cursor struct {
	Value interface{} `json:"value"`
	ID    string      `json:"id"`
}

// Encode returns the URL-safe base64 of the cursor JSON
func (c Cursor) Encode() string {
	raw, _ := json.Marshal(c)
	return base64.URLEncoding.EncodeToString(raw)
}

// DecodeCursor parses an encoded cursor
func DecodeCursor(s string) (Cursor, error) {
	raw, err := base64.URLEncoding.DecodeString(s)
	if err != nil {
		return Cursor{}, ErrInvalidCursor
	}
	var c Cursor
	if err := json.Unmarshal(raw, &c); err != nil || c.ID == "" {
		return Cursor{}, ErrInvalidCursor
	}
	if _, err := uuid.Parse(c.ID); err != nil {
		return Cursor{}, ErrInvalidCursor
	}
	return c, nil
}

// CursorParams are the query parameters of a cursor-paginated list
type CursorParams struct {
	Cursor    string
	Limit     int
	OrderBy   string
	Direction Direction
}

// Column is an orderable column: the SQL expression and the type its cursor
// value is cast to.
type Column struct {
	Expr string
	Cast string
}

// Columns maps order_by names to SQL columns
type Columns map[string]Column

// ParseCursorParams reads cursor, limit, order_by and direction from the
// query string. order_by must be one of columns.
func ParseCursorParams(r *http.Request, columns Columns, defaultOrder string) (CursorParams, error) {
	limit, err := httputil.ParseQueryInt(r, "limit", DefaultLimit)
	if err != nil {
		return CursorParams{}, err
	}
	if limit < 1 || limit > MaxLimit {
		return CursorParams{}, queryError("limit", fmt.Sprintf("Input should be between 1 and %d", MaxLimit))
	}

	orderBy := httputil.ParseQueryString(r, "order_by", defaultOrder)
	if _, ok := columns[orderBy]; !ok {
		return CursorParams{}, queryError("order_by", "Input should be one of: "+strings.Join(columns.names(), ", "))
	}

	direction := Direction(httputil.ParseQueryString(r, "direction", string(Forward)))
	if direction != Forward && direction != Backward {
		return CursorParams{}, queryError("direction", "Input should be 'forward' or 'backward'")
	}

	return CursorParams{
		Cursor:    r.URL.Query().Get("cursor"),
		Limit:     limit,
		OrderBy:   orderBy,
		Direction: direction,
	}, nil
}

func (c Columns) names() []string {
	out := make([]string, 0, len(c))
	for name := range c {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func queryError(field, msg string) error {
	return httputil.Unprocessable(httputil.FieldError{
		Loc:  []string{"query", field},
		Msg:  msg,
		Type: "value_error",
	})
}

// Keyset is the SQL fragment for one page
type Keyset struct {
	// Where is empty when there is no cursor
	Where   string
	Args    []interface{}
	OrderBy string
	Limit   int
}

// Keyset builds the comparison, ordering and limit for a page. baseDesc is
// the natural order of the listing (newest first lists pass true). argStart
// is the first free placeholder number.
func (p CursorParams) Keyset(columns Columns, idColumn string, baseDesc bool, argStart int) (Keyset, error) {
	col := columns[p.OrderBy]

	// Backward pages are read in reverse and flipped by NewPage.
	queryDesc := baseDesc != (p.Direction == Backward)
	dir := "ASC"
	if queryDesc {
		dir = "DESC"
	}

	ks := Keyset{
		OrderBy: fmt.Sprintf("%s %s, %s %s", col.Expr, dir, idColumn, dir),
		Limit:   p.Limit + 1,
	}

	if p.Cursor == "" {
		return ks, nil
	}

	cur, err := DecodeCursor(p.Cursor)
	if err != nil {
		return Keyset{}, err
	}

	value, err := cursorArg(cur.Value, col.Cast)
	if err != nil {
		return Keyset{}, err
	}

	op := ">"
	if queryDesc {
		op = "<"
	}
	ks.Where = fmt.Sprintf("(%s, %s) %s ($%d::%s, $%d::uuid)", col.Expr, idColumn, op, argStart, col.Cast, argStart+1)
	ks.Args = []interface{}{value, cur.ID}
	return ks, nil
}

// cursorArg checks a decoded cursor value against the column cast so a
// tampered cursor is a 400 rather than a failed query
func cursorArg(v interface{}, cast string) (interface{}, error) {
	switch cast {
	case "timestamptz":
		s, ok := v.(string)
		if !ok {
			return nil, ErrInvalidCursor
		}
		if _, err := time.Parse(time.RFC3339Nano, s); err != nil {
			return nil, ErrInvalidCursor
		}
		return s, nil
	case "bigint", "integer", "int":
		switch val := v.(type) {
		case float64:
			if val != math.Trunc(val) || math.Abs(val) >= math.MaxInt64 {
				return nil, ErrInvalidCursor
			}
			return strconv.FormatInt(int64(val), 10), nil
		case string:
			n, err := strconv.ParseInt(val, 10, 64)
			if err != nil {
				return nil, ErrInvalidCursor
			}
			return strconv.FormatInt(n, 10), nil
		default:
			return nil, ErrInvalidCursor
		}
	case "uuid":
		s, ok := v.(string)
		if !ok {
			return nil, ErrInvalidCursor
		}
		if _, err := uuid.Parse(s); err != nil {
			return nil, ErrInvalidCursor
		}
		return s, nil
	default:
		switch val := v.(type) {
		case nil:
			return nil, nil
		case string:
			return val, nil
		default:
			return fmt.Sprint(val), nil
		}
	}
}

// Page is a cursor-paginated response
type Page[T any] struct {
	Items          []T     `json:"items"`
	HasNext        bool    `json:"has_next"`
	HasPrevious    bool    `json:"has_previous"`
	NextCursor     *string `json:"next_cursor"`
	PreviousCursor *string `json:"previous_cursor"`
}

// KeyFunc returns the order value and ID of an item
type KeyFunc[T any] func(item T) (value interface{}, id string)

// NewPage trims the extra look-ahead row, restores the natural order of
// backward pages and computes the cursors.
func NewPage[T any](rows []T, p CursorParams, key KeyFunc[T]) Page[T] {
	hasMore := len(rows) > p.Limit
	if hasMore {
		rows = rows[:p.Limit]
	}
	if p.Direction == Backward {
		for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
			rows[i], rows[j] = rows[j], rows[i]
		}
	}
	if rows == nil {
		rows = []T{}
	}

	page := Page[T]{Items: rows}
	if p.Direction == Forward {
		page.HasNext = hasMore
		page.HasPrevious = p.Cursor != ""
	} else {
		page.HasNext = p.Cursor != ""
		page.HasPrevious = hasMore
	}

	if len(rows) > 0 {
		if page.HasNext {
			v, id := key(rows[len(rows)-1])
			next := Cursor{Value: v, ID: id}.Encode()
			page.NextCursor = &next
		}
		if page.HasPrevious {
			v, id := key(rows[0])
			prev := Cursor{Value: v, ID: id}.Encode()
			page.PreviousCursor = &prev
		}
	}

	return page
}

// TimeValue formats a timestamp as a cursor value
func TimeValue(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
