package p11

// Module is the PKCS#11 function list used for discovery.
//
// Calls never fail at the language level: the outcome is the returned
// Status, and output parameters are valid only for CKR_OK.
type Module interface {
	// Initialize is C_Initialize
	Initialize() Status
	// Finalize is C_Finalize
	Finalize() Status
	// GetSlotList is C_GetSlotList.
	// With nil slots only count is set, otherwise slots must hold *count entries.
	GetSlotList(tokenPresent bool, slots []SlotID, count *uint) Status
	// GetTokenInfo is C_GetTokenInfo
	GetTokenInfo(slot SlotID, info *TokenInfo) Status
	// OpenSession is C_OpenSession
	OpenSession(slot SlotID, flags uint, session *SessionHandle) Status
	// CloseSession is C_CloseSession
	CloseSession(session SessionHandle) Status
	// FindObjectsInit is C_FindObjectsInit
	FindObjectsInit(session SessionHandle, template []Attribute) Status
	// FindObjects is C_FindObjects, up to len(objects) handles are returned in count
	FindObjects(session SessionHandle, objects []ObjectHandle, count *uint) Status
	// FindObjectsFinal is C_FindObjectsFinal
	FindObjectsFinal(session SessionHandle) Status
	// GetAttributeValue is C_GetAttributeValue
	GetAttributeValue(session SessionHandle, object ObjectHandle, template []Attribute) Status
}
