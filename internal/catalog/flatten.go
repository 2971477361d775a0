package catalog

import "context"

// CollectionLookup resolves a collection definition by name.
type CollectionLookup func(ctx context.Context, name string) (Collection, error)

// Flatten expands roots into the collections they reach through chains, in
// search order and without duplicates. Chained collections are walked but
// only reported when includeChains is set. A chain that reaches itself again
// is not revisited.
func Flatten(ctx context.Context, lookup CollectionLookup, includeChains bool, roots ...string) ([]Collection, error) {
	var (
		out  []Collection
		seen = make(map[string]bool)
	)
	var walk func(name string) error
	walk = func(name string) error {
		if seen[name] {
			return nil
		}
		seen[name] = true

		c, err := lookup(ctx, name)
		if err != nil {
			return err
		}
		if c.Type != Chained {
			out = append(out, c)
			return nil
		}
		if includeChains {
			out = append(out, c)
		}
		for _, child := range c.Children {
			if err := walk(child); err != nil {
				return err
			}
		}
		return nil
	}

	for _, root := range roots {
		if err := walk(root); err != nil {
			return nil, err
		}
	}
	return out, nil
}
