// Package graph implements a Provider that sends replies via the Microsoft
// Graph API.
package graph

import "github.com/smalltech/web0-mail/internal/email"

// sendMailRequest is the top-level request body for the Graph API sendMail endpoint.
type sendMailRequest struct {
	Message         sendMailMessage `json:"message"`
	SaveToSentItems bool            `json:"saveToSentItems"`
}

// sendMailMessage represents the message portion of a sendMail request.
type sendMailMessage struct {
	Subject      string      `json:"subject"`
	Body         messageBody `json:"body"`
	ToRecipients []recipient `json:"toRecipients"`
	CcRecipients []recipient `json:"ccRecipients,omitempty"`
	ReplyTo      []recipient `json:"replyTo,omitempty"`
}

// messageBody represents the body of an email message.
type messageBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

// recipient represents an email recipient.
type recipient struct {
	EmailAddress emailAddress `json:"emailAddress"`
}

// emailAddress represents an email address in a Graph API request.
type emailAddress struct {
	Address string `json:"address"`
}

// graphErrorResponse represents an error response from the Graph API.
type graphErrorResponse struct {
	Error graphError `json:"error"`
}

// graphError represents the error detail in a Graph API error response.
type graphError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// buildSendMailRequest converts an email.Email into a Graph API sendMail request body.
func buildSendMailRequest(msg *email.Email) *sendMailRequest {
	req := &sendMailRequest{
		Message: sendMailMessage{
			Subject: msg.Subject,
			Body: messageBody{
				ContentType: "text",
				Content:     msg.TextBody,
			},
			ToRecipients: recipients(msg.To),
			CcRecipients: recipients(msg.Cc),
		},
		SaveToSentItems: true,
	}
	if msg.ReplyTo != "" {
		req.Message.ReplyTo = recipients([]string{msg.ReplyTo})
	}
	return req
}

func recipients(addrs []string) []recipient {
	list := make([]recipient, 0, len(addrs))
	for _, addr := range addrs {
		list = append(list, recipient{EmailAddress: emailAddress{Address: addr}})
	}
	return list
}
