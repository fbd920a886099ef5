package platform

import "sync"

// Declarations stores declared output events for drivers.
type Declarations struct {
	// mu protects the fields below.
	mu sync.RWMutex
	// next is the last assigned id.
	next DeclarationID
	// byID maps ids to declarations.
	byID map[DeclarationID]*Declaration
}

// NewDeclarations returns an empty table.
func NewDeclarations() *Declarations {
	return &Declarations{
		byID: make(map[DeclarationID]*Declaration),
	}
}

// Add stores a copy of the declaration and returns its id.
func (d *Declarations) Add(declaration *Declaration) DeclarationID {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.next++

	cloned := *declaration
	d.byID[d.next] = &cloned

	return d.next
}

// Get returns a declaration by id.
func (d *Declarations) Get(id DeclarationID) (*Declaration, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	declaration, ok := d.byID[id]
	if !ok {
		return nil, ErrUnknownDeclaration
	}

	return declaration, nil
}
