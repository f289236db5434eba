package exchange

import (
	"fmt"
	"strings"

	"FinFusion/internal/domain/models"
)

// symbolMap translates between canonical BASE/QUOTE symbols and one venue's
// native form.
type symbolMap struct {
	canonical []string
	native    []string
	toCanon   map[string]string
}

func nativeSymbol(ex models.Exchange, base, quote string) string {
	if ex == models.OKX {
		return base + "-" + quote
	}
	return base + quote
}

func newSymbolMap(ex models.Exchange, symbols []string) (*symbolMap, error) {
	if len(symbols) == 0 {
		return nil, fmt.Errorf("%s: no symbols to subscribe", ex)
	}
	m := &symbolMap{toCanon: make(map[string]string, len(symbols))}
	for _, s := range symbols {
		base, quote, ok := models.SplitSymbol(strings.ToUpper(s))
		if !ok {
			return nil, fmt.Errorf("%s: symbol %q is not BASE/QUOTE", ex, s)
		}
		canon := base + "/" + quote
		native := nativeSymbol(ex, base, quote)
		if _, dup := m.toCanon[native]; dup {
			continue
		}
		m.canonical = append(m.canonical, canon)
		m.native = append(m.native, native)
		m.toCanon[native] = canon
	}
	return m, nil
}

// canon resolves a native symbol (case-insensitive).
func (m *symbolMap) canon(native string) (string, bool) {
	c, ok := m.toCanon[strings.ToUpper(native)]
	return c, ok
}
