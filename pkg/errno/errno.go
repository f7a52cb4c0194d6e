package errno

// Errno defines the error code logic
type Errno struct {
	Code    int
	Message string
}

func (e Errno) Error() string {
	return e.Message
}

// WithMessage returns a copy with the message replaced, keeping the code
func (e Errno) WithMessage(msg string) Errno {
	return Errno{Code: e.Code, Message: msg}
}

// Decode tries to convert an error to Errno
func Decode(err error) (int, string) {
	if err == nil {
		return OK.Code, OK.Message
	}

	switch typed := err.(type) {
	case *Errno:
		return typed.Code, typed.Message
	case Errno:
		return typed.Code, typed.Message
	default:
		return InternalServerError.Code, err.Error()
	}
}

// Common Errors
var (
	OK                  = Errno{Code: 0, Message: "Success"}
	InternalServerError = Errno{Code: 10001, Message: "Internal server error"}
	ErrBind             = Errno{Code: 10002, Message: "Error occurred while binding the request body to the struct"}
	ErrDatabase         = Errno{Code: 10004, Message: "Database error"}
)

// Validation Errors (20xxx): rejected synchronously, nothing persisted
var (
	ErrInvalidAddress    = Errno{Code: 20001, Message: "Invalid chain address"}
	ErrInvalidAmount     = Errno{Code: 20002, Message: "Amount must be positive"}
	ErrSelfTransfer      = Errno{Code: 20003, Message: "Destination equals own wallet address"}
	ErrInsufficientFunds = Errno{Code: 20004, Message: "Insufficient available balance"}
	ErrWalletLocked      = Errno{Code: 20005, Message: "Wallet is locked"}
	ErrUnsupportedAsset  = Errno{Code: 20006, Message: "Unsupported asset"}
)

// State Conflicts (21xxx): action against a record not in the required status
var (
	ErrNotReviewable   = Errno{Code: 21001, Message: "Withdrawal is not pending approval"}
	ErrAlreadyLocked   = Errno{Code: 21002, Message: "Wallet already locked"}
	ErrAlreadyUnlocked = Errno{Code: 21003, Message: "Wallet already unlocked"}
)

// Not Found (22xxx)
var (
	ErrWalletNotFound     = Errno{Code: 22001, Message: "Wallet not found"}
	ErrWithdrawalNotFound = Errno{Code: 22002, Message: "Withdrawal not found"}
	ErrTreasuryNotFound   = Errno{Code: 22003, Message: "No active treasury wallet"}
)

// Fatal custody errors (23xxx): operator intervention required
var (
	ErrFatalCustody = Errno{Code: 23001, Message: "Fatal custody error"}
	ErrIntegrity    = Errno{Code: 23002, Message: "Secret integrity check failed"}
)
