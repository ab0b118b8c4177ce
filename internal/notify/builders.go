package notify

import "fmt"

// CheckoutReminder nudges a user who has been checked in for a long time.
func CheckoutReminder(gymName string) Notification {
	return Notification{
		Title:      "Lembrete de Check-out",
		Message:    fmt.Sprintf("Você está há mais de 3 horas na %s. Não esqueça de fazer o check-out!", gymName),
		Type:       SeverityWarning,
		ActionURL:  "/checkin",
		ActionText: "Fazer Check-out",
	}
}

// Welcome greets a newly registered user.
func Welcome(userName string) Notification {
	return Notification{
		Title:      "Bem-vindo ao Unipass!",
		Message:    fmt.Sprintf("Olá %s! Sua conta foi criada com sucesso. Explore as academias disponíveis.", userName),
		Type:       SeveritySuccess,
		ActionURL:  "/checkin",
		ActionText: "Encontrar Academias",
	}
}

// CheckinSuccess confirms a check-in performed while online.
func CheckinSuccess(gymName string) Notification {
	return Notification{
		Title:   "Check-in Realizado!",
		Message: fmt.Sprintf("Check-in realizado com sucesso na %s. Bom treino!", gymName),
		Type:    SeveritySuccess,
	}
}

// CapacityAlert warns that a gym is crowded.
func CapacityAlert(gymName string) Notification {
	return Notification{
		Title:      "Academia Lotada",
		Message:    fmt.Sprintf("A %s está com alta ocupação no momento. Considere outro horário.", gymName),
		Type:       SeverityWarning,
		ActionURL:  "/checkin",
		ActionText: "Ver Outras Academias",
	}
}

// WeeklySummary reports the week's activity.
func WeeklySummary(checkins, hours int) Notification {
	return Notification{
		Title:      "Resumo Semanal",
		Message:    fmt.Sprintf("Esta semana você fez %d check-ins e treinou por %d horas. Parabéns!", checkins, hours),
		Type:       SeverityInfo,
		ActionURL:  "/profile",
		ActionText: "Ver Estatísticas",
	}
}

// CheckinReplayed confirms a queued check-in that reached the API.
func CheckinReplayed(gymName string) Notification {
	return Notification{
		Title:     "Check-in Realizado!",
		Message:   fmt.Sprintf("Check-in realizado com sucesso na %s", gymName),
		Type:      SeveritySuccess,
		ActionURL: "/profile",
	}
}

// CheckoutReplayed confirms a queued check-out that reached the API.
func CheckoutReplayed(gymName string) Notification {
	msg := "Check-out realizado com sucesso"
	if gymName != "" {
		msg = fmt.Sprintf("Check-out realizado com sucesso na %s", gymName)
	}
	return Notification{
		Title:     "Check-out Realizado!",
		Message:   msg,
		Type:      SeveritySuccess,
		ActionURL: "/profile",
	}
}

// ReplayStalled reports a queued operation that keeps failing.
func ReplayStalled(gymName string, attempts int) Notification {
	target := "a academia"
	if gymName != "" {
		target = gymName
	}
	return Notification{
		Title:      "Sincronização Pendente",
		Message:    fmt.Sprintf("Ainda não foi possível sincronizar sua operação em %s após %d tentativas.", target, attempts),
		Type:       SeverityWarning,
		ActionURL:  "/checkin",
		ActionText: "Ver Check-in",
	}
}
