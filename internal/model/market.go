package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// SystemAccount is the sender recorded for wallet top-ups.
const SystemAccount = "SYSTEM"

// NoImage marks a product listed without a picture.
const NoImage = "none"

type Role int

const (
	RoleClient Role = iota
	RoleSeller
)

func (r Role) String() string {
	if r == RoleSeller {
		return "Seller"
	}
	return "Client"
}

// ParseRole maps the login/registration role marker ("1" seller, "2" client).
func ParseRole(s string) (Role, bool) {
	switch strings.TrimSpace(s) {
	case "1":
		return RoleSeller, true
	case "2":
		return RoleClient, true
	}
	return RoleClient, false
}

type Account struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     Role   `json:"role"`
}

type Product struct {
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	ImageRef string          `json:"image_ref"`

	// stored is the catalog line the product was parsed from.
	stored string
}

// Line renders the product the way catalogs store it: name,price,imageRef.
func (p Product) Line() string {
	image := p.ImageRef
	if image == "" {
		image = NoImage
	}
	return fmt.Sprintf("%s,%s,%s", p.Name, p.Price.StringFixed(2), image)
}

// StoredLine is the catalog line as written, or Line for a product never stored.
func (p Product) StoredLine() string {
	if p.stored != "" {
		return p.stored
	}
	return p.Line()
}

func (p Product) HasImage() bool {
	return p.ImageRef != "" && !strings.EqualFold(p.ImageRef, NoImage)
}

// ParseProduct parses one catalog line. Lines without an image field get NoImage.
func ParseProduct(line string) (Product, error) {
	line = strings.TrimSpace(line)
	parts := strings.Split(line, ",")
	if len(parts) < 2 {
		return Product{}, fmt.Errorf("malformed catalog line %q", line)
	}
	price, err := decimal.NewFromString(strings.TrimSpace(parts[1]))
	if err != nil {
		return Product{}, fmt.Errorf("malformed price in catalog line %q: %w", line, err)
	}
	p := Product{Name: parts[0], Price: price, ImageRef: NoImage, stored: line}
	if len(parts) >= 3 {
		p.ImageRef = strings.TrimSpace(parts[2])
	}
	return p, nil
}

type Transaction struct {
	From      string          `json:"from"`
	To        string          `json:"to"`
	Amount    decimal.Decimal `json:"amount"`
	Note      string          `json:"note"`
	Timestamp int64           `json:"timestamp"` // unix millis
}

func (t Transaction) Line() string {
	return strings.Join([]string{t.From, t.To, t.Amount.String(), t.Note, strconv.FormatInt(t.Timestamp, 10)}, "|")
}

func (t Transaction) CreatedAt() time.Time {
	return time.UnixMilli(t.Timestamp)
}

// Involves reports whether user sent or received the transaction.
func (t Transaction) Involves(user string) bool {
	return t.From == user || t.To == user
}

// Describe renders the transaction relative to viewer: "To X" when viewer paid, "From X" otherwise.
func (t Transaction) Describe(viewer string) string {
	direction := "From " + t.From
	if t.From == viewer {
		direction = "To " + t.To
	}
	return fmt.Sprintf("%s: $%s - %s", direction, t.Amount.StringFixed(2), t.Note)
}

func ParseTransaction(line string) (Transaction, error) {
	parts := strings.Split(line, "|")
	if len(parts) < 4 {
		return Transaction{}, fmt.Errorf("malformed transaction line %q", line)
	}
	amount, err := decimal.NewFromString(parts[2])
	if err != nil {
		return Transaction{}, fmt.Errorf("malformed amount in transaction line %q: %w", line, err)
	}
	t := Transaction{From: parts[0], To: parts[1], Amount: amount, Note: parts[3]}
	if len(parts) >= 5 {
		t.Timestamp, _ = strconv.ParseInt(parts[4], 10, 64)
	}
	return t, nil
}

// ChatLine is one stored chat message.
type ChatLine struct {
	SpeakerRole Role
	SpeakerUser string
	Message     string
}

func (c ChatLine) String() string {
	return fmt.Sprintf("%s [%s]: %s", c.SpeakerRole, c.SpeakerUser, c.Message)
}

// ThreadKey identifies the chat between one client and one seller, independent of who opened it.
type ThreadKey struct {
	Seller string
	Client string
}

func (k ThreadKey) FileName() string {
	return k.Seller + "_" + k.Client + "_chat.txt"
}

// ParseThreadFile recovers the key of a chat file owned by seller. It returns false when the
// file belongs to another seller or is not a chat file.
func ParseThreadFile(seller, fileName string) (ThreadKey, bool) {
	prefix := seller + "_"
	const suffix = "_chat.txt"
	if !strings.HasPrefix(fileName, prefix) || !strings.HasSuffix(fileName, suffix) {
		return ThreadKey{}, false
	}
	client := strings.TrimSuffix(strings.TrimPrefix(fileName, prefix), suffix)
	if client == "" || strings.Contains(client, "_") {
		return ThreadKey{}, false
	}
	return ThreadKey{Seller: seller, Client: client}, true
}
