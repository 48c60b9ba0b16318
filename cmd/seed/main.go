// Package main provides a tool to seed the database with sample lending data.
//
// It creates a small catalog plus a few loans in various states, including
// overdue ones, so the sweep and fine flows can be exercised locally.
//
// Usage:
//
//	DATABASE_PATH=~/Circulate/circulate.db go run ./cmd/seed
//	DATABASE_PATH=~/Circulate/circulate.db go run ./cmd/seed --overdue=5
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/circulateapp/circulate-server/internal/domain"
	"github.com/circulateapp/circulate-server/internal/id"
	"github.com/circulateapp/circulate-server/internal/store/sqlite"
)

var overdueLoans = flag.Int("overdue", 3, "Number of overdue loans to create")

var catalog = []struct {
	title  string
	author string
	copies int
}{
	{"Number the Stars", "Lois Lowry", 3},
	{"The Little Prince", "Antoine de Saint-Exupery", 2},
	{"Dế Mèn Phiêu Lưu Ký", "Tô Hoài", 4},
	{"A Wizard of Earthsea", "Ursula K. Le Guin", 2},
	{"The Name of the Wind", "Patrick Rothfuss", 1},
}

func main() {
	flag.Parse()

	dbPath := os.Getenv("DATABASE_PATH")
	if dbPath == "" {
		dbPath = os.ExpandEnv("$HOME/Circulate/circulate.db")
	}

	fmt.Printf("Opening database at: %s\n", dbPath)

	st, err := sqlite.Open(dbPath, nil)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer st.Close()

	ctx := context.Background()

	bookIDs := seedBooks(ctx, st)
	seedLoans(ctx, st, bookIDs)

	fmt.Println("Done.")
}

func seedBooks(ctx context.Context, st *sqlite.Store) []string {
	ids := make([]string, 0, len(catalog))

	for _, entry := range catalog {
		book := &domain.Book{
			Title:             entry.title,
			Author:            entry.author,
			Quantity:          entry.copies,
			AvailableQuantity: entry.copies,
		}
		book.ID = id.MustGenerate(id.PrefixBook)
		book.InitTimestamps()

		if err := st.CreateBook(ctx, book); err != nil {
			log.Fatalf("Failed to create book %q: %v", entry.title, err)
		}
		fmt.Printf("Created book %s (%s, %d copies)\n", book.ID, book.Title, book.Quantity)
		ids = append(ids, book.ID)
	}

	return ids
}

// seedLoans plants one borrowed loan per book, the first N of them overdue.
func seedLoans(ctx context.Context, st *sqlite.Store, bookIDs []string) {
	now := time.Now().UTC()

	for i, bookID := range bookIDs {
		userID := fmt.Sprintf("%s-seed-%d", id.PrefixUser, i+1)

		dueDate := now.AddDate(0, 0, 14)
		if i < *overdueLoans {
			// Stagger how far overdue each loan is.
			dueDate = now.AddDate(0, 0, -(i + 1))
		}

		confirmed := now.AddDate(0, 0, -14)
		loan := &domain.Loan{
			UserID:        userID,
			BookID:        bookID,
			BorrowDate:    confirmed,
			DueDate:       dueDate,
			ConfirmedDate: &confirmed,
			Status:        domain.LoanBorrowed,
		}
		loan.ID = id.MustGenerate(id.PrefixLoan)
		loan.InitTimestamps()

		err := st.Transact(ctx, func(tx *sqlite.Tx) error {
			if err := tx.CreateLoan(ctx, loan); err != nil {
				return err
			}
			if err := tx.DecrementAvailable(ctx, bookID); err != nil {
				return err
			}
			if _, err := tx.EnsureUserStatus(ctx, userID, 5); err != nil {
				return err
			}
			return tx.IncrementBorrowCount(ctx, userID)
		})
		if err != nil {
			log.Fatalf("Failed to create loan for %s: %v", bookID, err)
		}

		state := "current"
		if i < *overdueLoans {
			state = fmt.Sprintf("overdue since %s", dueDate.Format("2006-01-02"))
		}
		fmt.Printf("Created loan %s for %s (%s)\n", loan.ID, userID, state)
	}
}
