package openfinance

// ChangeKind tags a single entry of a delta page.
type ChangeKind int

const (
	ChangeAdded ChangeKind = iota + 1
	ChangeModified
	ChangeRemoved
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeAdded:
		return "added"
	case ChangeModified:
		return "modified"
	case ChangeRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Change is one entry of a delta page. Added and modified entries carry the
// full Transaction; removed entries carry only RemovedID.
type Change struct {
	Kind        ChangeKind
	Transaction *Transaction
	RemovedID   string
}

// DeltaPage is one page of the transaction delta stream, in provider order:
// added entries, then modified, then removed.
type DeltaPage struct {
	Changes    []Change
	NextCursor string
	HasMore    bool
}

// Counts returns the number of entries of each kind.
func (p *DeltaPage) Counts() (added, modified, removed int) {
	for _, c := range p.Changes {
		switch c.Kind {
		case ChangeAdded:
			added++
		case ChangeModified:
			modified++
		case ChangeRemoved:
			removed++
		}
	}
	return added, modified, removed
}

// DeltaPage converts the wire response into the tagged page form.
func (r *TransactionsSyncResponse) DeltaPage() *DeltaPage {
	page := &DeltaPage{
		Changes:    make([]Change, 0, len(r.Added)+len(r.Modified)+len(r.Removed)),
		NextCursor: r.NextCursor,
		HasMore:    r.HasMore,
	}
	for i := range r.Added {
		page.Changes = append(page.Changes, Change{Kind: ChangeAdded, Transaction: &r.Added[i]})
	}
	for i := range r.Modified {
		page.Changes = append(page.Changes, Change{Kind: ChangeModified, Transaction: &r.Modified[i]})
	}
	for _, rm := range r.Removed {
		page.Changes = append(page.Changes, Change{Kind: ChangeRemoved, RemovedID: rm.TransactionID})
	}
	return page
}
