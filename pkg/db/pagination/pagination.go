package pagination

const (
	DefaultPageSize = 20
	MaxPageSize     = 200
)

type Pagination struct {
	Page     int `form:"page,default=1" json:"page"`
	PageSize int `form:"page_size,default=20" json:"pageSize"`
}

// Normalize clamps page to >= 1 and page size to [1, MaxPageSize].
func (p Pagination) Normalize() Pagination {
	if p.Page < 1 {
		p.Page = 1
	}
	switch {
	case p.PageSize <= 0:
		p.PageSize = DefaultPageSize
	case p.PageSize > MaxPageSize:
		p.PageSize = MaxPageSize
	}
	return p
}

func (p Pagination) Offset() int {
	return (p.Page - 1) * p.PageSize
}

type Page[T any] struct {
	List     []*T  `json:"list"`
	Total    int64 `json:"total"`
	Page     int   `json:"page"`
	PageSize int   `json:"pageSize"`
}

func NewPage[T any](list []*T, total int64, p Pagination) *Page[T] {
	if list == nil {
		list = []*T{}
	}
	return &Page[T]{List: list, Total: total, Page: p.Page, PageSize: p.PageSize}
}
