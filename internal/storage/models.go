package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// Version types.
const (
	VersionContent = "content"
	VersionDesign  = "design"
)

type Website struct {
	ID        int64
	Name      string
	Domain    string
	Directory string
}

// Page is a hosted page joined with its website.
type Page struct {
	ID        int64
	WebsiteID int64
	Path      string
	Title     string
	Active    bool
	Domain    string
	Directory string
}

type ContentVersion struct {
	ID          int64
	PageID      int64
	ContentHash string
	Content     map[string]string
	HTML        string
	Type        string
	Active      bool
	CreatedAt   time.Time
}

type SplitTest struct {
	ID         int64
	PageID     int64
	Name       string
	Type       string
	GoalPageID int64
	Active     bool
	StartDate  time.Time
	EndDate    *time.Time
	CreatedAt  time.Time
}

type TestVariant struct {
	ID               int64
	TestID           int64
	Name             string
	ContentVersionID int64
	Weight           int
}

// VisitorSession records which variant a visitor was assigned.
type VisitorSession struct {
	TestID    int64
	VariantID int64
	VisitorID string
	UserAgent string
	IPAddress string
	Referrer  string
}

type Conversion struct {
	TestID    int64
	VariantID int64
	VisitorID string
}
