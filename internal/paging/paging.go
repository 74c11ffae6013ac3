package paging

import (
	"fmt"
	"time"

	"taskline/internal/domain"
)

// StatusAll in a filter matches every status.
const StatusAll = "all"

// Filter is a conjunctive task predicate. Zero-value fields match
// everything. Date bounds are inclusive and compared at day granularity
// in the configured display format.
type Filter struct {
	Status string
	Author string
	From   string
	To     string
	Format string
}

func (f Filter) day(s string) (time.Time, error) {
	format := f.Format
	if format == "" {
		format = "02.01.2006"
	}
	return time.Parse(format, s)
}

// Match reports whether the task satisfies every set predicate. A task
// whose created_at cannot be interpreted never matches a date-bounded
// filter.
func (f Filter) Match(t domain.Task) (bool, error) {
	if f.Status != "" && f.Status != StatusAll && string(t.Status) != f.Status {
		return false, nil
	}
	if f.Author != "" && t.CreatedBy != f.Author {
		return false, nil
	}
	if f.From == "" && f.To == "" {
		return true, nil
	}
	created, err := time.Parse(time.RFC3339, t.CreatedAt)
	if err != nil {
		return false, nil
	}
	day := created.Truncate(24 * time.Hour)
	if f.From != "" {
		from, err := f.day(f.From)
		if err != nil {
			return false, fmt.Errorf("invalid from date %q: %w", f.From, err)
		}
		if day.Before(from) {
			return false, nil
		}
	}
	if f.To != "" {
		to, err := f.day(f.To)
		if err != nil {
			return false, fmt.Errorf("invalid to date %q: %w", f.To, err)
		}
		if day.After(to) {
			return false, nil
		}
	}
	return true, nil
}

// PeriodRange translates a named period into inclusive from/to bounds in
// the display format. Weeks start on Monday. The "all" period means no
// bounds.
func PeriodRange(period string, now time.Time, format string) (string, string, error) {
	if format == "" {
		format = "02.01.2006"
	}
	today := now.Truncate(24 * time.Hour)
	switch period {
	case "all":
		return "", "", nil
	case "today":
		d := today.Format(format)
		return d, d, nil
	case "week":
		offset := (int(today.Weekday()) + 6) % 7
		monday := today.AddDate(0, 0, -offset)
		return monday.Format(format), today.Format(format), nil
	case "month":
		first := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, today.Location())
		return first.Format(format), today.Format(format), nil
	}
	return "", "", fmt.Errorf("unknown period %q", period)
}

// Page is one window of a filtered task listing.
type Page struct {
	Items      []domain.Task `json:"items"`
	Number     int           `json:"number"`
	TotalPages int           `json:"total_pages"`
	TotalItems int           `json:"total_items"`
	Size       int           `json:"size"`
	HasPrev    bool          `json:"has_prev"`
	HasNext    bool          `json:"has_next"`
}

// Paginate slices tasks into the requested page. Out-of-range page
// numbers clamp to the nearest valid page rather than erroring; an empty
// set yields page 1 of 0.
func Paginate(tasks []domain.Task, page, size int) Page {
	if size <= 0 {
		size = 1
	}
	total := len(tasks)
	totalPages := (total + size - 1) / size
	if page < 1 {
		page = 1
	}
	if page > totalPages {
		page = totalPages
	}
	if page < 1 {
		page = 1
	}
	start := (page - 1) * size
	end := start + size
	if start > total {
		start = total
	}
	if end > total {
		end = total
	}
	return Page{
		Items:      tasks[start:end],
		Number:     page,
		TotalPages: totalPages,
		TotalItems: total,
		Size:       size,
		HasPrev:    page > 1,
		HasNext:    page < totalPages,
	}
}

// Apply filters the candidates and paginates the survivors.
func Apply(tasks []domain.Task, f Filter, page, size int) (Page, error) {
	var matched []domain.Task
	for _, t := range tasks {
		ok, err := f.Match(t)
		if err != nil {
			return Page{}, err
		}
		if ok {
			matched = append(matched, t)
		}
	}
	return Paginate(matched, page, size), nil
}
