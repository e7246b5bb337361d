package gallery

// noMorePages is the cookie encoding of an exhausted cursor. The frontend
// depends on this literal.
const noMorePages = "None"

// Cursor is a position in a paginated listing.
//
// The zero value is the start of the listing. An exhausted cursor means the
// previous page was the last one; listing from it returns nothing without
// contacting the provider. The provider token is opaque and is never
// compared against anything.
type Cursor struct {
	token     string
	exhausted bool
}

// Start is the first page.
func Start() Cursor { return Cursor{} }

// Exhausted is the position after the last page.
func Exhausted() Cursor { return Cursor{exhausted: true} }

// At resumes from a provider continuation token.
func At(token string) Cursor {
	if token == "" {
		return Start()
	}
	return Cursor{token: token}
}

// ParseCursor decodes the cookie form produced by String.
func ParseCursor(s string) Cursor {
	if s == noMorePages {
		return Exhausted()
	}
	return At(s)
}

// String encodes the cursor for the continuation cookie.
func (c Cursor) String() string {
	if c.exhausted {
		return noMorePages
	}
	return c.token
}

// IsExhausted reports whether there are no more pages.
func (c Cursor) IsExhausted() bool { return c.exhausted }

// Token returns the provider continuation token, empty at the start.
func (c Cursor) Token() string { return c.token }
