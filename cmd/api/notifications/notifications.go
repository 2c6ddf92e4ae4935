package notifications

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

const (
	topicBookCreated  = "_New_book_created"
	topicBookBorrowed = "_Book_borrowed"
)

// ErrNotificationFailed is returned when ntfy answers with anything but 200.
type ErrNotificationFailed struct {
	statusCode int
}

func (e ErrNotificationFailed) Error() string {
	return fmt.Sprintf("notification failed with status code: %d", e.statusCode)
}

func NewErrNotificationFailed(statusCode int) ErrNotificationFailed {
	return ErrNotificationFailed{statusCode: statusCode}
}

type Ntfy struct {
	baseURL string
	enabled bool
	client  *http.Client
}

func NewNtfy(enableNotifications bool, notificationsBaseURL string, client *http.Client) *Ntfy {
	return &Ntfy{
		baseURL: notificationsBaseURL,
		enabled: enableNotifications,
		client:  client,
	}
}

func (ntf *Ntfy) BookCreated(ctx context.Context, title string, copies int) error {
	message := fmt.Sprintf("New book created:\nTitle: %s\nCopies: %v", title, copies)
	return ntf.publish(ctx, topicBookCreated, message)
}

func (ntf *Ntfy) BookBorrowed(ctx context.Context, title string, quantity, copiesLeft int) error {
	message := fmt.Sprintf("Book borrowed:\nTitle: %s\nQuantity: %v\nCopies left: %v", title, quantity, copiesLeft)
	return ntf.publish(ctx, topicBookBorrowed, message)
}

/* Posts the message to the topic. Does nothing while notifications are disabled. */
func (ntf *Ntfy) publish(ctx context.Context, topic, message string) error {
	if !ntf.enabled {
		return nil
	}

	url := ntf.baseURL + topic
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(message))
	if err != nil {
		return fmt.Errorf("delivering message to topic (%s): %w", url, err)
	}

	resp, err := ntf.client.Do(req)
	if err != nil {
		return fmt.Errorf("delivering message to topic (%s): %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("delivering message to topic (%s): %w", url, NewErrNotificationFailed(resp.StatusCode))
	}
	return nil
}
