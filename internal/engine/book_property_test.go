package engine

import (
	"fmt"
	"testing"

	"github.com/efreitasn/tickexchange/internal/domain"
	"pgregory.net/rapid"
)

// Property 2: price-time priority of the sorted book.

// genOrder generates a resting order with a small price range to force ties.
func genOrder(id int, side domain.Side) *rapid.Generator[domain.Order] {
	return rapid.Custom(func(t *rapid.T) domain.Order {
		price := rapid.Int64Range(1, 20).Draw(t, "price")
		qty := rapid.Float64Range(0.1, 10).Draw(t, "qty")
		return makeOrder(fmt.Sprintf("order-%03d", id), "agent", side, price, uint64(id), qty)
	})
}

func TestProperty_BidSideSortingInvariant(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 50).Draw(t, "numOrders")
		book := NewOrderBook("basic_food")

		for i := 0; i < n; i++ {
			book.Insert(genOrder(i, domain.SideBuy).Draw(t, fmt.Sprintf("bid-%d", i)))
		}

		bids := book.Bids()
		if len(bids) != n {
			t.Fatalf("expected %d bids, got %d", n, len(bids))
		}
		for i := 1; i < len(bids); i++ {
			prev, cur := bids[i-1], bids[i]
			if cur.PricePennies > prev.PricePennies {
				t.Fatalf("bid side: price should be non-increasing, got %d after %d", cur.PricePennies, prev.PricePennies)
			}
			if cur.PricePennies == prev.PricePennies && cur.Seq < prev.Seq {
				t.Fatalf("bid side: same price %d, submission order broken: seq %d after %d", cur.PricePennies, cur.Seq, prev.Seq)
			}
		}
	})
}

func TestProperty_AskSideSortingInvariant(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 50).Draw(t, "numOrders")
		book := NewOrderBook("basic_food")

		for i := 0; i < n; i++ {
			book.Insert(genOrder(i, domain.SideSell).Draw(t, fmt.Sprintf("ask-%d", i)))
		}

		asks := book.Asks()
		for i := 1; i < len(asks); i++ {
			prev, cur := asks[i-1], asks[i]
			if cur.PricePennies < prev.PricePennies {
				t.Fatalf("ask side: price should be non-decreasing, got %d after %d", cur.PricePennies, prev.PricePennies)
			}
			if cur.PricePennies == prev.PricePennies && cur.Seq < prev.Seq {
				t.Fatalf("ask side: same price %d, submission order broken: seq %d after %d", cur.PricePennies, cur.Seq, prev.Seq)
			}
		}
	})
}
