package google

type eventTime struct {
	DateTime string `json:"dateTime,omitempty"`
	Date     string `json:"date,omitempty"`
	TimeZone string `json:"timeZone,omitempty"`
}

type eventItem struct {
	ID           string     `json:"id"`
	Status       string     `json:"status"`
	Summary      string     `json:"summary"`
	Transparency string     `json:"transparency"`
	Start        *eventTime `json:"start"`
	End          *eventTime `json:"end"`
}

type eventsListResponse struct {
	Items         []eventItem `json:"items"`
	NextPageToken string      `json:"nextPageToken"`
}

type freeBusyItem struct {
	ID string `json:"id"`
}

type freeBusyRequest struct {
	TimeMin string         `json:"timeMin"`
	TimeMax string         `json:"timeMax"`
	Items   []freeBusyItem `json:"items"`
}

type busyPeriod struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type calendarError struct {
	Domain string `json:"domain"`
	Reason string `json:"reason"`
}

type freeBusyCalendar struct {
	Busy   []busyPeriod    `json:"busy"`
	Errors []calendarError `json:"errors"`
}

type freeBusyResponse struct {
	Calendars map[string]freeBusyCalendar `json:"calendars"`
}

type reminderOverride struct {
	Method  string `json:"method"`
	Minutes int    `json:"minutes"`
}

type reminders struct {
	UseDefault bool               `json:"useDefault"`
	Overrides  []reminderOverride `json:"overrides,omitempty"`
}

type insertEventRequest struct {
	Summary   string     `json:"summary"`
	Start     eventTime  `json:"start"`
	End       eventTime  `json:"end"`
	Reminders *reminders `json:"reminders,omitempty"`
}

type insertEventResponse struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	HTMLLink string `json:"htmlLink"`
}
