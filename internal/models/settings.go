package models

// Setting вид напоминания, который пользователь может включить или выключить.
type Setting string

const (
	// SettingDayBefore напоминание за days_before дней до списания.
	SettingDayBefore Setting = "day_before"
	// SettingWeekly еженедельный дайджест.
	SettingWeekly Setting = "weekly"
	// SettingMonthly ежемесячный отчёт.
	SettingMonthly Setting = "monthly"
)

// Значения по умолчанию для лениво создаваемых настроек.
const (
	DefaultDayBefore = true
	DefaultWeekly    = false
	DefaultMonthly   = false
)

// Valid сообщает, существует ли такой вид напоминания.
func (s Setting) Valid() bool {
	switch s {
	case SettingDayBefore, SettingWeekly, SettingMonthly:
		return true
	}
	return false
}

// NotificationSettings хранит флаги напоминаний пользователя.
// NotifyHour (0–23, UTC) учитывается только при почасовом режиме планировщика.
type NotificationSettings struct {
	UserID     int64
	DayBefore  bool
	Weekly     bool
	Monthly    bool
	NotifyHour int
}

// DefaultNotificationSettings возвращает настройки, создаваемые при первом обращении.
func DefaultNotificationSettings(userID int64, notifyHour int) NotificationSettings {
	return NotificationSettings{
		UserID:     userID,
		DayBefore:  DefaultDayBefore,
		Weekly:     DefaultWeekly,
		Monthly:    DefaultMonthly,
		NotifyHour: notifyHour,
	}
}

// Enabled возвращает значение флага для указанного вида напоминания.
func (s NotificationSettings) Enabled(setting Setting) bool {
	switch setting {
	case SettingDayBefore:
		return s.DayBefore
	case SettingWeekly:
		return s.Weekly
	case SettingMonthly:
		return s.Monthly
	}
	return false
}

// Toggle инвертирует флаг и возвращает новое значение.
func (s *NotificationSettings) Toggle(setting Setting) bool {
	switch setting {
	case SettingDayBefore:
		s.DayBefore = !s.DayBefore
		return s.DayBefore
	case SettingWeekly:
		s.Weekly = !s.Weekly
		return s.Weekly
	case SettingMonthly:
		s.Monthly = !s.Monthly
		return s.Monthly
	}
	return false
}
