package scanning

// invoiceScanPrompt is the shared prompt used by all providers. Changing it changes the shape of
// the JSON that comes back, so the parser and the stored records depend on it.
const invoiceScanPrompt = `Analyze this invoice document thoroughly and extract all relevant information in JSON format.

The JSON object should use these keys when the information is present:

- vendor_details: object with "name", "address" and "contact_info" (an object of label -> value, e.g. {"phone": "...", "email": "..."})
- customer_details: same shape as vendor_details
- shipping_address: same shape as vendor_details
- invoice_number
- invoice_date
- due_date
- purchase_order_number
- payment_terms
- line_items: array of objects with "description", "quantity", "unit_price" and "amount"
- subtotal
- taxes: array of objects with "description" and "amount"
- total_amount
- notes
- any other relevant fields present in the document, using snake_case keys

Rules:
- quantity, unit_price, amount, subtotal and total_amount must be numbers, not strings
- addresses are a single string; use line breaks between address lines
- for fields that aren't present in the document, either omit them or set them to null
- do not guess values that are not printed on the document

Return ONLY the JSON data, without any additional text or markdown formatting.`
