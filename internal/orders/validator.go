package orders

import (
	"context"
	"fmt"
	"math"
)

// Validator checks an order request against the live client and catalog
// state. It never writes.
type Validator struct {
	clients  ClientLookup
	products ProductLookup
}

// NewValidator returns a Validator reading from the given lookups.
func NewValidator(clients ClientLookup, products ProductLookup) *Validator {
	return &Validator{clients: clients, products: products}
}

// Validate returns the items priced from the catalog, together with the
// products it resolved keyed by ID. Submitted unit prices are discarded.
//
// Repeated lines for the same product are checked against the stock using
// their combined quantity.
func (v *Validator) Validate(ctx context.Context, clientID int64, items []ItemRequest) ([]OrderItem, map[int64]*Product, error) {
	client, err := v.clients.GetClientByID(ctx, clientID)
	if err != nil {
		return nil, nil, &PersistenceError{Op: "get client", Err: err}
	}
	if client == nil {
		return nil, nil, fmt.Errorf("%w: a valid client must be selected for the order (id %d)", ErrClientNotFound, clientID)
	}

	if len(items) == 0 {
		return nil, nil, ErrEmptyOrder
	}

	products := make(map[int64]*Product, len(items))
	requested := make(map[int64]int, len(items))
	validated := make([]OrderItem, 0, len(items))

	for _, it := range items {
		if it.Quantity <= 0 {
			return nil, nil, fmt.Errorf("%w: product %d has quantity %d", ErrInvalidQuantity, it.ProductID, it.Quantity)
		}

		product, ok := products[it.ProductID]
		if !ok {
			product, err = v.products.GetProductByID(ctx, it.ProductID)
			if err != nil {
				return nil, nil, &PersistenceError{Op: fmt.Sprintf("get product %d", it.ProductID), Err: err}
			}
			if product == nil {
				return nil, nil, fmt.Errorf("%w: product with ID %d not found", ErrProductNotFound, it.ProductID)
			}
			products[it.ProductID] = product
		}

		// requested never exceeds stock, so the subtraction cannot wrap
		already := requested[it.ProductID]
		if it.Quantity > product.StockQuantity-already {
			return nil, nil, &InsufficientStockError{
				ProductID:   product.ID,
				ProductName: product.Name,
				Available:   product.StockQuantity,
				Requested:   saturatingAdd(already, it.Quantity),
			}
		}
		requested[it.ProductID] = already + it.Quantity

		validated = append(validated, OrderItem{
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			UnitPrice: product.Price,
		})
	}

	return validated, products, nil
}

func saturatingAdd(a, b int) int {
	if b > math.MaxInt-a {
		return math.MaxInt
	}
	return a + b
}
