package indicator

// Params configures indicator periods.
type Params struct {
	RSIPeriod        int
	EMAFast          int
	EMASlow          int
	MACDFast         int
	MACDSlow         int
	MACDSignal       int
	BollingerPeriod  int
	BollingerMult    float64
	SupertrendPeriod int
	SupertrendMult   float64
}

// DefaultParams are the conventional periods.
var DefaultParams = Params{
	RSIPeriod:        14,
	EMAFast:          20,
	EMASlow:          50,
	MACDFast:         12,
	MACDSlow:         26,
	MACDSignal:       9,
	BollingerPeriod:  20,
	BollingerMult:    2,
	SupertrendPeriod: 10,
	SupertrendMult:   3,
}

// Input holds aligned columns, oldest first.
type Input struct {
	Closes  []float64
	Highs   []float64
	Lows    []float64
	Volumes []float64
}

// Set is the indicator snapshot for one (symbol, timeframe).
type Set struct {
	Price      float64         `json:"price" yaml:"price"`
	RSI        float64         `json:"rsi" yaml:"rsi"`
	MACD       MACDValue       `json:"macd" yaml:"macd"`
	VWAP       float64         `json:"vwap" yaml:"vwap"`
	EMA20      float64         `json:"ema20" yaml:"ema20"`
	EMA50      float64         `json:"ema50" yaml:"ema50"`
	Bollinger  BollingerBands  `json:"bollinger" yaml:"bollinger"`
	Supertrend SupertrendValue `json:"supertrend" yaml:"supertrend"`
}

// Compute evaluates every indicator over in.
func Compute(in Input, p Params) Set {
	set := Set{
		RSI:        RSI(in.Closes, p.RSIPeriod),
		MACD:       MACD(in.Closes, p.MACDFast, p.MACDSlow, p.MACDSignal),
		VWAP:       VWAP(in.Closes, in.Volumes),
		EMA20:      EMA(in.Closes, p.EMAFast),
		EMA50:      EMA(in.Closes, p.EMASlow),
		Bollinger:  Bollinger(in.Closes, p.BollingerPeriod, p.BollingerMult),
		Supertrend: Supertrend(in.Highs, in.Lows, in.Closes, p.SupertrendPeriod, p.SupertrendMult),
	}
	if n := len(in.Closes); n > 0 {
		set.Price = in.Closes[n-1]
	}
	return set
}
