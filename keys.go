package ledgerflow

// Keys are the record and blob keys of a contract. They are always derived from the contract id.
type Keys struct {
	Template string
	Data     string
	State    string
	Result   string
}

func KeysFor(contractID string) Keys {
	return Keys{
		Template: contractID + ".cta",
		Data:     contractID + ".data",
		State:    contractID + ".state",
		Result:   contractID + ".result",
	}
}
