package domain

// Asset identifies one of the pool's two fungible tokens.
type Asset string

// Identity is an opaque caller identity, compared only for equality.
type Identity string

// OrderStatus describes where a long-term order is in its life.
type OrderStatus string

const (
	OrderStatusActive    OrderStatus = "ACTIVE"
	OrderStatusExpired   OrderStatus = "EXPIRED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

// IsOpen checks if the order is still selling.
func (s OrderStatus) IsOpen() bool {
	return s == OrderStatusActive
}
