package clob

import "fmt"

// Currency is an asset known to the exchange.
type Currency struct {
	ID   int32
	Name string
}

// Symbol is a tradable pair. Quantity and price are expressed as base amount
// and quote-per-base respectively.
type Symbol struct {
	ID    int32
	Name  string
	Base  int32 // base currency id
	Quote int32 // quote currency id
}

// SymbolTable holds the currencies and symbols configured at startup. It is
// immutable after construction and is the only piece of domain state shared
// across workers besides the channel endpoints.
type SymbolTable struct {
	currencies map[int32]*Currency
	symbols    map[int32]*Symbol
}

func NewSymbolTable(currencies []Currency, symbols []Symbol) (*SymbolTable, error) {
	t := &SymbolTable{
		currencies: make(map[int32]*Currency, len(currencies)),
		symbols:    make(map[int32]*Symbol, len(symbols)),
	}

	for i := range currencies {
		c := currencies[i]
		if c.ID <= 0 {
			return nil, fmt.Errorf("currency %q: id must be positive", c.Name)
		}
		if _, ok := t.currencies[c.ID]; ok {
			return nil, fmt.Errorf("duplicate currency id %d", c.ID)
		}
		t.currencies[c.ID] = &c
	}

	for i := range symbols {
		s := symbols[i]
		if s.ID <= 0 {
			return nil, fmt.Errorf("symbol %q: id must be positive", s.Name)
		}
		if _, ok := t.symbols[s.ID]; ok {
			return nil, fmt.Errorf("duplicate symbol id %d", s.ID)
		}
		if _, ok := t.currencies[s.Base]; !ok {
			return nil, fmt.Errorf("symbol %q: unknown base currency %d", s.Name, s.Base)
		}
		if _, ok := t.currencies[s.Quote]; !ok {
			return nil, fmt.Errorf("symbol %q: unknown quote currency %d", s.Name, s.Quote)
		}
		t.symbols[s.ID] = &s
	}

	return t, nil
}

// Symbol returns the symbol descriptor, or nil if the id is unknown.
func (t *SymbolTable) Symbol(id int32) *Symbol {
	return t.symbols[id]
}

// Currency returns the currency descriptor, or nil if the id is unknown.
func (t *SymbolTable) Currency(id int32) *Currency {
	return t.currencies[id]
}

// Symbols returns all configured symbols in unspecified order.
func (t *SymbolTable) Symbols() []*Symbol {
	out := make([]*Symbol, 0, len(t.symbols))
	for _, s := range t.symbols {
		out = append(out, s)
	}
	return out
}
