// Package domain contains core domain types for the lead qualification agent.
package domain

// State ids of the reference conversation topology.
const (
	StateInitializing           = "INITIALIZING"
	StateCollectingName         = "COLLECTING_NAME"
	StateCollectingEmail        = "COLLECTING_EMAIL"
	StateCollectingPhone        = "COLLECTING_PHONE"
	StateCreatingLead           = "CREATING_LEAD"
	StateAskingQuestions        = "ASKING_STRATEGIC_QUESTIONS"
	StateShowingCalendarOptions = "SHOWING_CALENDAR_OPTIONS"
	StateConfirmingAppointment  = "CONFIRMING_APPOINTMENT"
	StateNegotiatingCalendar    = "NEGOTIATING_CALENDAR"
	StateCompleted              = "COMPLETED"
	StateError                  = "ERROR"
)

// StateKind classifies a state descriptor.
type StateKind string

const (
	KindInteractive StateKind = "interactive"
	KindProcessing  StateKind = "processing"
	KindTerminal    StateKind = "terminal"
)

// StateDefinition describes one state of an agent's FSM.
type StateDefinition struct {
	ID      string    `json:"id" yaml:"id"`
	Name    string    `json:"name" yaml:"name"`
	Kind    StateKind `json:"kind" yaml:"kind"`
	Handler string    `json:"handler,omitempty" yaml:"handler,omitempty"`
}

// FSMConfig is the state machine definition owned by an agent.
// Transitions is a default advance map; the engine does not enforce it.
type FSMConfig struct {
	InitialState string            `json:"initialState" yaml:"initialState"`
	States       []StateDefinition `json:"states" yaml:"states"`
	Transitions  map[string]string `json:"transitions,omitempty" yaml:"transitions,omitempty"`
}

// WorkingHours is an informational daily range in "HH:MM".
type WorkingHours struct {
	Start string `json:"start" yaml:"start"`
	End   string `json:"end" yaml:"end"`
}

// CalendarConfig holds the weekly availability template of an agent.
type CalendarConfig struct {
	WorkingDays  []int        `json:"workingDays,omitempty" yaml:"workingDays,omitempty"`
	WorkingHours WorkingHours `json:"workingHours" yaml:"workingHours"`
	SlotDuration int          `json:"slotDuration,omitempty" yaml:"slotDuration,omitempty"`
}

// BehaviorConfig configures what the agent says and whether it books meetings.
type BehaviorConfig struct {
	CompanyName        string         `json:"companyName,omitempty" yaml:"companyName,omitempty"`
	StrategicQuestions []string       `json:"strategicQuestions,omitempty" yaml:"strategicQuestions,omitempty"`
	Calendar           CalendarConfig `json:"calendarConfig" yaml:"calendarConfig"`
	EnableCalendar     *bool          `json:"enableCalendar,omitempty" yaml:"enableCalendar,omitempty"`
	CalendarUserID     string         `json:"calendarUserId,omitempty" yaml:"calendarUserId,omitempty"`
}

// CalendarEnabled reports whether scheduling is on. Only an explicit false disables it.
func (b BehaviorConfig) CalendarEnabled() bool {
	return b.EnableCalendar == nil || *b.EnableCalendar
}

// CompanyOr returns the configured company name or fallback.
func (b BehaviorConfig) CompanyOr(fallback string) string {
	if b.CompanyName == "" {
		return fallback
	}
	return b.CompanyName
}

// AppointmentDuration returns the configured slot duration in minutes, 60 when unset.
func (b BehaviorConfig) AppointmentDuration() int {
	if b.Calendar.SlotDuration > 0 {
		return b.Calendar.SlotDuration
	}
	return 60
}

// Agent is an immutable, read-only input to every handler.
type Agent struct {
	ID          string         `json:"id" yaml:"id"`
	CompanyID   string         `json:"companyId" yaml:"companyId"`
	Name        string         `json:"name" yaml:"name"`
	WidgetToken string         `json:"-" yaml:"widgetToken,omitempty"`
	Active      *bool          `json:"active,omitempty" yaml:"active,omitempty"`
	HeaderColor string         `json:"headerColor,omitempty" yaml:"headerColor,omitempty"`
	LogoURL     string         `json:"logoUrl,omitempty" yaml:"logoUrl,omitempty"`
	FSM         FSMConfig      `json:"fsmConfig" yaml:"fsm"`
	Behavior    BehaviorConfig `json:"behaviorConfig" yaml:"behavior"`
}

// IsActive returns false only when the agent was explicitly deactivated.
func (a *Agent) IsActive() bool {
	return a.Active == nil || *a.Active
}

// ReferenceFSM returns the default topology used when an agent omits its FSM.
func ReferenceFSM() FSMConfig {
	return FSMConfig{
		InitialState: StateInitializing,
		States: []StateDefinition{
			{ID: StateInitializing, Name: "Boas-vindas", Kind: KindProcessing},
			{ID: StateCollectingName, Name: "Coletando nome", Kind: KindInteractive},
			{ID: StateCollectingEmail, Name: "Coletando e-mail", Kind: KindInteractive},
			{ID: StateCollectingPhone, Name: "Coletando telefone", Kind: KindInteractive},
			{ID: StateCreatingLead, Name: "Criando lead", Kind: KindProcessing},
			{ID: StateAskingQuestions, Name: "Perguntas estratégicas", Kind: KindInteractive},
			{ID: StateShowingCalendarOptions, Name: "Mostrando horários", Kind: KindInteractive},
			{ID: StateConfirmingAppointment, Name: "Confirmando agendamento", Kind: KindInteractive},
			{ID: StateNegotiatingCalendar, Name: "Negociando horário", Kind: KindInteractive},
			{ID: StateCompleted, Name: "Concluído", Kind: KindTerminal},
			{ID: StateError, Name: "Erro", Kind: KindInteractive},
		},
		Transitions: map[string]string{
			StateInitializing:           StateCollectingName,
			StateCollectingName:         StateCollectingEmail,
			StateCollectingEmail:        StateCollectingPhone,
			StateCollectingPhone:        StateAskingQuestions,
			StateCreatingLead:           StateAskingQuestions,
			StateAskingQuestions:        StateShowingCalendarOptions,
			StateShowingCalendarOptions: StateConfirmingAppointment,
			StateConfirmingAppointment:  StateCompleted,
			StateNegotiatingCalendar:    StateCompleted,
			StateError:                  StateCollectingName,
		},
	}
}
