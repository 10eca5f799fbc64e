// Package session drives one marketplace connection through login and the
// role-specific menus.
package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"

	"fsanano/marketplace/internal/model"
	"fsanano/marketplace/internal/repository"
	"fsanano/marketplace/internal/service"
)

type state int

const (
	stateStart state = iota
	stateAwaitMainChoice
	stateAuthenticating
	stateRegistering
	stateClientMenu
	stateSellerMenu
	stateTerminated
)

var stateNames = map[state]string{
	stateStart:           "start",
	stateAwaitMainChoice: "await_main_choice",
	stateAuthenticating:  "authenticating",
	stateRegistering:     "registering",
	stateClientMenu:      "client_menu",
	stateSellerMenu:      "seller_menu",
	stateTerminated:      "terminated",
}

func (s state) String() string {
	return stateNames[s]
}

// outcome tells the menu loop what to do after a menu entry ran.
type outcome int

const (
	stay outcome = iota
	logout
	closeSession
)

type menuEntry struct {
	key   string
	label string
	run   func(ctx context.Context) (outcome, error)
}

// Engine serves marketplace sessions. It holds no per-connection state and is
// safe for concurrent use.
type Engine struct {
	svc    *service.MarketService
	logger *slog.Logger
}

func NewEngine(svc *service.MarketService, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{svc: svc, logger: logger}
}

// Serve runs one session on rw until the client exits, deletes its account or
// disconnects. A client that disconnects yields the read error (usually io.EOF).
func (e *Engine) Serve(ctx context.Context, rw io.ReadWriter, logger *slog.Logger) error {
	if logger == nil {
		logger = e.logger
	}
	s := &session{
		svc:    e.svc,
		conn:   newLineConn(rw),
		logger: logger,
		state:  stateStart,
	}
	return s.run(ctx)
}

type session struct {
	svc    *service.MarketService
	conn   *lineConn
	logger *slog.Logger

	state     state
	account   *model.Account
	menuShown bool
}

func (s *session) run(ctx context.Context) error {
	steps := map[state]func(context.Context) (state, error){
		stateStart:           s.start,
		stateAwaitMainChoice: s.awaitMainChoice,
		stateAuthenticating:  s.authenticate,
		stateRegistering:     s.register,
		stateClientMenu:      s.clientMenu,
		stateSellerMenu:      s.sellerMenu,
	}

	for s.state != stateTerminated {
		if err := ctx.Err(); err != nil {
			return err
		}
		next, err := steps[s.state](ctx)
		if err != nil {
			s.logger.Debug("session ended", "state", s.state, "error", err)
			return err
		}
		if next != s.state {
			s.logger.Debug("session transition", "from", s.state, "to", next)
		}
		s.state = next
	}
	return s.conn.flush()
}

// ask sends prompt and returns the client's reply.
func (s *session) ask(prompt string) (string, error) {
	s.conn.println(prompt)
	return s.conn.readLine()
}

// fail reports a storage failure: logged here, generic to the client.
func (s *session) fail(op string, err error) {
	s.logger.Error("operation failed", "op", op, "user", s.username(), "error", err)
	s.conn.println(operationFailed)
}

func (s *session) username() string {
	if s.account == nil {
		return ""
	}
	return s.account.Username
}

func (s *session) start(context.Context) (state, error) {
	s.conn.println(welcome)
	return stateAwaitMainChoice, nil
}

func (s *session) awaitMainChoice(context.Context) (state, error) {
	s.conn.println(mainMenuHeader, "1. Login", "2. Create New Account", "3. Exit", mainMenuFooter)
	choice, err := s.ask(mainMenuPrompt)
	if err != nil {
		return stateTerminated, err
	}
	switch strings.TrimSpace(choice) {
	case "1":
		return stateAuthenticating, nil
	case "2":
		return stateRegistering, nil
	case "3":
		s.conn.println(farewell)
		return stateTerminated, nil
	}
	s.conn.println(invalidOption)
	return stateAwaitMainChoice, nil
}

// readCredentials runs the username, password and role prompts shared by login and registration.
func (s *session) readCredentials() (username, password, role string, err error) {
	if username, err = s.ask(promptUsername); err != nil {
		return
	}
	if password, err = s.ask(promptPassword); err != nil {
		return
	}
	role, err = s.ask(promptRole)
	return strings.TrimSpace(username), password, role, err
}

func (s *session) authenticate(context.Context) (state, error) {
	username, password, roleInput, err := s.readCredentials()
	if err != nil {
		return stateTerminated, err
	}
	role, ok := model.ParseRole(roleInput)
	if !ok {
		s.conn.println(loginFailed)
		return stateAwaitMainChoice, nil
	}

	acc, err := s.svc.Login(username, password, role)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			s.logger.Info("login failed", "user", username, "role", role)
			s.conn.println(loginFailed)
		} else {
			s.fail("login", err)
		}
		return stateAwaitMainChoice, nil
	}

	s.account = acc
	s.menuShown = false
	s.logger.Info("login", "user", acc.Username, "role", acc.Role)
	if acc.Role == model.RoleSeller {
		s.conn.println(loginSuccessSeller, roleSellerMarker)
		return stateSellerMenu, nil
	}
	s.conn.println(loginSuccessClient, roleClientMarker)
	return stateClientMenu, nil
}

func (s *session) register(ctx context.Context) (state, error) {
	username, password, roleInput, err := s.readCredentials()
	if err != nil {
		return stateTerminated, err
	}
	role, ok := model.ParseRole(roleInput)
	if !ok {
		s.conn.println(invalidRole)
		return stateAwaitMainChoice, nil
	}

	switch err := s.svc.Register(ctx, username, password, role); {
	case err == nil:
		s.logger.Info("account created", "user", username, "role", role)
		s.conn.println("Account created successfully with starting balance of $" + s.svc.StartingBalance().StringFixed(2))
	case errors.Is(err, repository.ErrDuplicateUser):
		s.conn.println(accountExists)
	case errors.Is(err, service.ErrInvalidInput):
		s.conn.println(invalidUsername)
	default:
		s.fail("register", err)
	}
	return stateAwaitMainChoice, nil
}

func (s *session) clientMenu(ctx context.Context) (state, error) {
	return s.menuStep(ctx, stateClientMenu, "=== CLIENT MENU ===", []menuEntry{
		{"1", "Shop", s.shop},
		{"2", "Chat with Seller", s.clientChat},
		{"3", "Search Products", s.search},
		{"4", "Top Up Wallet", s.topUp},
		{"5", "View Balance", s.viewBalance},
		{"6", "View Transaction History", s.viewHistory},
		{"7", "Delete Account", s.deleteAccount},
		{"8", "Logout", s.logout},
	})
}

func (s *session) sellerMenu(ctx context.Context) (state, error) {
	return s.menuStep(ctx, stateSellerMenu, "=== SELLER MENU ===", []menuEntry{
		{"1", "Add Product", s.addProduct},
		{"2", "Delete Product", s.deleteProduct},
		{"3", "View My Products", s.viewProducts},
		{"4", "Chat with Clients", s.sellerChat},
		{"5", "View Balance", s.viewBalance},
		{"6", "View Transaction History", s.viewHistory},
		{"7", "Delete Account", s.deleteAccount},
		{"8", "Logout", s.logout},
	})
}

// menuStep shows the menu on first entry, reads one choice and dispatches it.
func (s *session) menuStep(ctx context.Context, current state, header string, entries []menuEntry) (state, error) {
	if !s.menuShown {
		s.conn.println(header)
		for _, entry := range entries {
			s.conn.println(entry.key + ". " + entry.label)
		}
		s.conn.println(menuFooter)
		s.menuShown = true
	}

	choice, err := s.ask(menuPrompt)
	if err != nil {
		return stateTerminated, err
	}
	choice = strings.TrimSpace(choice)

	for _, entry := range entries {
		if entry.key != choice {
			continue
		}
		out, err := entry.run(ctx)
		if err != nil {
			return stateTerminated, err
		}
		switch out {
		case logout:
			s.account = nil
			s.menuShown = false
			return stateAwaitMainChoice, nil
		case closeSession:
			return stateTerminated, nil
		}
		return current, nil
	}

	s.conn.println(invalidChoice)
	return current, nil
}

func (s *session) logout(context.Context) (outcome, error) {
	s.logger.Info("logout", "user", s.username())
	s.conn.println(loggingOut)
	return logout, nil
}

func (s *session) viewBalance(ctx context.Context) (outcome, error) {
	balance, err := s.svc.Balance(ctx, s.username())
	if err != nil {
		s.fail("balance", err)
		return stay, nil
	}
	s.conn.println("Your current balance: $" + balance.StringFixed(2))
	return stay, nil
}

func (s *session) viewHistory(ctx context.Context) (outcome, error) {
	lines, err := s.svc.History(ctx, s.username())
	if err != nil {
		s.fail("history", err)
		return stay, nil
	}
	s.conn.println("=== TRANSACTION HISTORY ===")
	if len(lines) == 0 {
		s.conn.println("No transactions.")
	}
	s.conn.println(lines...)
	s.conn.println(historyFooter)
	return stay, nil
}

func (s *session) deleteAccount(ctx context.Context) (outcome, error) {
	user := s.username()
	if err := s.svc.DeleteAccount(ctx, user); err != nil {
		s.fail("delete account", err)
		return stay, nil
	}
	s.logger.Info("account deleted", "user", user)
	s.conn.println(accountDeleted)
	return closeSession, nil
}
