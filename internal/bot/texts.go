package bot

// User-facing texts. Plain strings are sent without markup.
const (
	textNotStaff        = "You are not registered as staff. Ask a manager to add you."
	textManagersOnly    = "Only managers can create leads."
	textGenericError    = "Something went wrong, please try again."
	textUseMenu         = "Send /start to open the menu."
	textUseButtons      = "Please use the buttons above."
	textStaleButton     = "That button is no longer active. Send /start to begin again."
	textCancelled       = "Cancelled. Nothing was saved."
	textChooseOrigin    = "Where does the lead come from?"
	textNoAccounts      = "No linked accounts are available right now. Ask a manager to connect one."
	textChooseAccount   = "Choose the account that talked to the client:"
	textAccountGone     = "That account is no longer connected."
	textNoContacts      = "This account has no recent private conversations."
	textChooseContact   = "Choose the client conversation to import:"
	textChooseDest      = "Who should handle this lead?"
	textNoGroups        = "No agent groups are configured. The flow was cancelled."
	textChooseGroup     = "Send the lead to which group?"
	textEnterNote       = "Add a note for the agent, or press Skip."
	textLongNote        = "That note is too long, keep it under 2000 characters."
	textImporting       = "Importing the conversation..."
	textCreateFailed    = "The lead could not be created. Please start the flow again."
	textEnterName       = "Client name?"
	textBadName         = "Please send the client's name (up to 200 characters)."
	textEnterPhone      = "Client phone number in international format, e.g. +66812345678"
	textBadPhone        = "That does not look like a phone number. Use international format, e.g. +66812345678"
	textSendScreenshots = "Send the screenshots now. Press Continue when you are done."
	textNeedScreenshot  = "Send at least one screenshot before continuing."
	textAlreadyTaken    = "Someone else already took this lead."
	textNoLeads         = "You have no leads in progress."
	textNotYourLead     = "This lead is not assigned to you or is already closed."
	textContractAsked   = "Contract requested."
)
