package site

import "github.com/Builder-Lawyers/church-provisioner/internal/domain/consts"

type texts struct {
	Heading  string
	Welcome  string
	Login    string
	Calendar string
	Records  string
	Contact  string
}

type profile struct {
	DateFormat string
	Currency   string
	Texts      texts
}

var profiles = map[consts.Language]profile{
	consts.LanguageEnglish: {
		DateFormat: "MM/DD/YYYY",
		Currency:   "USD",
		Texts: texts{
			Heading:  "Orthodox Church",
			Welcome:  "Welcome to our parish",
			Login:    "Login",
			Calendar: "Calendar",
			Records:  "Records",
			Contact:  "Contact",
		},
	},
	consts.LanguageGreek: {
		DateFormat: "DD/MM/YYYY",
		Currency:   "EUR",
		Texts: texts{
			Heading:  "Ορθόδοξη Εκκλησία",
			Welcome:  "Καλώς ήρθατε στην ενορία μας",
			Login:    "Σύνδεση",
			Calendar: "Ημερολόγιο",
			Records:  "Αρχεία",
			Contact:  "Επικοινωνία",
		},
	},
	consts.LanguageRussian: {
		DateFormat: "DD.MM.YYYY",
		Currency:   "RUB",
		Texts: texts{
			Heading:  "Православная Церковь",
			Welcome:  "Добро пожаловать в наш приход",
			Login:    "Вход",
			Calendar: "Календарь",
			Records:  "Записи",
			Contact:  "Контакты",
		},
	},
	consts.LanguageRomanian: {
		DateFormat: "DD.MM.YYYY",
		Currency:   "RON",
		Texts: texts{
			Heading:  "Biserica Ortodoxă",
			Welcome:  "Bine ați venit în parohia noastră",
			Login:    "Autentificare",
			Calendar: "Calendar",
			Records:  "Înregistrări",
			Contact:  "Contact",
		},
	},
}

func profileFor(lang consts.Language) profile {
	if p, ok := profiles[lang]; ok {
		return p
	}
	return profiles[consts.LanguageEnglish]
}
