package instruments

import "quotefeed/internal/models"

// Popular maps Nifty 50 symbols to their NSE listing.
var Popular = map[string]models.Instrument{
	"RELIANCE":   {Symbol: "RELIANCE", Exchange: models.NSE, Name: "Reliance Industries"},
	"TCS":        {Symbol: "TCS", Exchange: models.NSE, Name: "Tata Consultancy Services"},
	"HDFCBANK":   {Symbol: "HDFCBANK", Exchange: models.NSE, Name: "HDFC Bank"},
	"INFY":       {Symbol: "INFY", Exchange: models.NSE, Name: "Infosys"},
	"ICICIBANK":  {Symbol: "ICICIBANK", Exchange: models.NSE, Name: "ICICI Bank"},
	"HINDUNILVR": {Symbol: "HINDUNILVR", Exchange: models.NSE, Name: "Hindustan Unilever"},
	"ITC":        {Symbol: "ITC", Exchange: models.NSE, Name: "ITC Limited"},
	"SBIN":       {Symbol: "SBIN", Exchange: models.NSE, Name: "State Bank of India"},
	"BHARTIARTL": {Symbol: "BHARTIARTL", Exchange: models.NSE, Name: "Bharti Airtel"},
	"KOTAKBANK":  {Symbol: "KOTAKBANK", Exchange: models.NSE, Name: "Kotak Mahindra Bank"},
	"LT":         {Symbol: "LT", Exchange: models.NSE, Name: "Larsen & Toubro"},
	"AXISBANK":   {Symbol: "AXISBANK", Exchange: models.NSE, Name: "Axis Bank"},
	"ASIANPAINT": {Symbol: "ASIANPAINT", Exchange: models.NSE, Name: "Asian Paints"},
	"MARUTI":     {Symbol: "MARUTI", Exchange: models.NSE, Name: "Maruti Suzuki"},
	"WIPRO":      {Symbol: "WIPRO", Exchange: models.NSE, Name: "Wipro"},
	"TATAMOTORS": {Symbol: "TATAMOTORS", Exchange: models.NSE, Name: "Tata Motors"},
	"TATASTEEL":  {Symbol: "TATASTEEL", Exchange: models.NSE, Name: "Tata Steel"},
	"SUNPHARMA":  {Symbol: "SUNPHARMA", Exchange: models.NSE, Name: "Sun Pharmaceutical"},
	"TITAN":      {Symbol: "TITAN", Exchange: models.NSE, Name: "Titan Company"},
	"ULTRACEMCO": {Symbol: "ULTRACEMCO", Exchange: models.NSE, Name: "UltraTech Cement"},
	"BAJFINANCE": {Symbol: "BAJFINANCE", Exchange: models.NSE, Name: "Bajaj Finance"},
	"TECHM":      {Symbol: "TECHM", Exchange: models.NSE, Name: "Tech Mahindra"},
	"POWERGRID":  {Symbol: "POWERGRID", Exchange: models.NSE, Name: "Power Grid Corporation"},
	"NESTLEIND":  {Symbol: "NESTLEIND", Exchange: models.NSE, Name: "Nestle India"},
	"HCLTECH":    {Symbol: "HCLTECH", Exchange: models.NSE, Name: "HCL Technologies"},
}
