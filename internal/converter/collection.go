package converter

import "fmt"

// Collection は画像の順序付き集合です。並び順がそのまま出力時のページ順になります。
type Collection struct {
	order []string
	units map[string]*Unit
}

func newCollection() *Collection {
	return &Collection{units: make(map[string]*Unit)}
}

// Len は画像の枚数を返します。
func (c *Collection) Len() int {
	return len(c.order)
}

// Get は id の画像を返します。
func (c *Collection) Get(id string) (*Unit, bool) {
	u, ok := c.units[id]
	return u, ok
}

// Append は画像を末尾に追加します。既存の id と重複する場合は何も追加しません。
func (c *Collection) Append(units ...*Unit) error {
	seen := make(map[string]struct{}, len(units))
	for _, u := range units {
		if u == nil || u.ID == "" {
			return fmt.Errorf("unit without id")
		}
		if _, dup := c.units[u.ID]; dup {
			return fmt.Errorf("duplicate unit id %q", u.ID)
		}
		if _, dup := seen[u.ID]; dup {
			return fmt.Errorf("duplicate unit id %q", u.ID)
		}
		seen[u.ID] = struct{}{}
	}
	for _, u := range units {
		c.units[u.ID] = u
		c.order = append(c.order, u.ID)
	}
	return nil
}

// Remove は id の画像を取り除きます。存在しない場合は false を返します。
func (c *Collection) Remove(id string) (*Unit, bool) {
	u, ok := c.units[id]
	if !ok {
		return nil, false
	}
	delete(c.units, id)
	for i, v := range c.order {
		if v == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return u, true
}

// Reorder は並び順を置き換えます。ids が現在の id の並べ替えでなければ ErrInvalidOrder を返し、順序は変えません。
func (c *Collection) Reorder(ids []string) error {
	if len(ids) != len(c.order) {
		return ErrInvalidOrder
	}
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if _, ok := c.units[id]; !ok {
			return ErrInvalidOrder
		}
		if seen[id] {
			return ErrInvalidOrder
		}
		seen[id] = true
	}
	c.order = append(c.order[:0:0], ids...)
	return nil
}

// Units は並び順どおりの画像を返します。
func (c *Collection) Units() []*Unit {
	units := make([]*Unit, len(c.order))
	for i, id := range c.order {
		units[i] = c.units[id]
	}
	return units
}
