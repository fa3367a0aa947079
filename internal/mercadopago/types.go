package mercadopago

type preferenceRequest struct {
	Items             []preferenceItem `json:"items"`
	Payer             preferencePayer  `json:"payer"`
	BackURLs          BackURLs         `json:"back_urls"`
	AutoReturn        string           `json:"auto_return"`
	ExternalReference string           `json:"external_reference"`
	NotificationURL   string           `json:"notification_url,omitempty"`
}

type preferenceItem struct {
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	PictureURL  string  `json:"picture_url,omitempty"`
	Quantity    int     `json:"quantity"`
	CurrencyID  string  `json:"currency_id"`
	UnitPrice   float64 `json:"unit_price"`
}

type preferencePayer struct {
	Name    string             `json:"name"`
	Surname string             `json:"surname"`
	Email   string             `json:"email"`
	Phone   *preferencePhone   `json:"phone,omitempty"`
	Address *preferenceAddress `json:"address,omitempty"`
}

type preferencePhone struct {
	Number string `json:"number"`
}

type preferenceAddress struct {
	StreetName string `json:"street_name"`
}

type preferenceResponse struct {
	ID               string `json:"id"`
	InitPoint        string `json:"init_point"`
	SandboxInitPoint string `json:"sandbox_init_point"`
}

type errorResponse struct {
	Message string `json:"message"`
	Error   string `json:"error"`
	Status  int    `json:"status"`
}
