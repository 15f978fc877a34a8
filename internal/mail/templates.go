package mail

import "fmt"

func RequestAccepted(to, code, testType string) Message {
	return Message{
		To:      to,
		Subject: fmt.Sprintf("Test request %s accepted", code),
		Body:    fmt.Sprintf("Your %s test request %s was accepted by the laboratory and is scheduled for testing.", testType, code),
	}
}

func RequestFinished(to, code, testType string) Message {
	return Message{
		To:      to,
		Subject: fmt.Sprintf("Test request %s finished", code),
		Body:    fmt.Sprintf("Testing for your %s request %s is finished. Results are available in the results section.", testType, code),
	}
}

func PasswordReset(to, token string, validMinutes int) Message {
	return Message{
		To:      to,
		Subject: "Password reset",
		Body: fmt.Sprintf("Use this token to reset your password. It is valid for %d minutes.\n\n%s\n\nIf you did not ask for a reset, ignore this message.",
			validMinutes, token),
	}
}
