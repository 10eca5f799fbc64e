package session

import (
	"bufio"
	"io"
	"strings"
)

// Marker and prompt lines clients match on.
const (
	welcome  = "Welcome to the Marketplace Server!"
	farewell = "Goodbye!"

	mainMenuHeader = "=== MAIN MENU ==="
	mainMenuFooter = "===END MENU==="
	mainMenuPrompt = "Please enter your choice (1-3):"
	invalidOption  = "Invalid option. Please try again."

	promptUsername = "Enter username:"
	promptPassword = "Enter password:"
	promptRole     = "Are you a Seller (1) or Client (2)?"

	loginFailed        = "LOGIN_FAILED"
	loginSuccessClient = "LOGIN_SUCCESS_CLIENT"
	loginSuccessSeller = "LOGIN_SUCCESS_SELLER"
	roleClientMarker   = "ROLE:CLIENT"
	roleSellerMarker   = "ROLE:SELLER"

	accountExists   = "Account already exists."
	invalidRole     = "Invalid role."
	invalidUsername = "Invalid username or password."

	menuFooter     = "===END_MENU==="
	menuPrompt     = "Please select your choice (1-8):"
	invalidChoice  = "Invalid choice, try again."
	loggingOut     = "Logging out..."
	accountDeleted = "Account deleted. Goodbye!"

	operationFailed = "Operation failed. Please try again."

	imagePushPrefix    = "IMG:"
	imageRequestPrefix = "SEND_IMAGE_NOW:"
	imageUploadedAck   = "IMAGE_UPLOADED"

	historyFooter = "===END OF HISTORY==="
)

// lineConn speaks newline-terminated text. Write errors are sticky and surface
// on the next readLine, which is where every dialogue step blocks anyway.
type lineConn struct {
	r   *bufio.Reader
	w   *bufio.Writer
	err error
}

func newLineConn(rw io.ReadWriter) *lineConn {
	return &lineConn{r: bufio.NewReader(rw), w: bufio.NewWriter(rw)}
}

func (c *lineConn) println(lines ...string) {
	if c.err != nil {
		return
	}
	for _, line := range lines {
		if _, err := c.w.WriteString(line + "\n"); err != nil {
			c.err = err
			return
		}
	}
}

func (c *lineConn) flush() error {
	if c.err != nil {
		return c.err
	}
	if err := c.w.Flush(); err != nil {
		c.err = err
	}
	return c.err
}

// readLine flushes pending output, then blocks for the client's next line. It
// returns io.EOF once the client is gone; a final unterminated line is still delivered.
func (c *lineConn) readLine() (string, error) {
	if err := c.flush(); err != nil {
		return "", err
	}
	line, err := c.r.ReadString('\n')
	if err != nil {
		if err == io.EOF && line != "" {
			return strings.TrimRight(line, "\r\n"), nil
		}
		c.err = err
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
